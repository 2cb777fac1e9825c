// Package modelimage maps a hardware model name to a picture in the models
// directory.
package modelimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the number of cached lookups.
const DefaultCapacity = 256

// Extensions are tried, in order, after the bare model name.
var Extensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Resolver finds model images and remembers the answers, misses included.
// Entries are evicted oldest first once the cache is full.
type Resolver struct {
	mu       sync.Mutex
	dir      string
	capacity int
	entries  map[string]string
	order    []string
	// moved tells a running Watch to follow SetDirectory.
	moved chan struct{}
}

// New returns a resolver for dir. A capacity below one uses
// DefaultCapacity.
func New(dir string, capacity int) *Resolver {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Resolver{
		dir:      dir,
		capacity: capacity,
		entries:  make(map[string]string, capacity),
		moved:    make(chan struct{}, 1),
	}
}

// Dir is the directory currently searched.
func (r *Resolver) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// SetDirectory switches to dir and drops every cached answer. A running
// Watch moves to the new directory.
func (r *Resolver) SetDirectory(dir string) {
	r.mu.Lock()
	r.dir = dir
	r.resetLocked()
	r.mu.Unlock()

	select {
	case r.moved <- struct{}{}:
	default:
	}
}

// Invalidate drops every cached answer.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Len is the number of cached answers.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Resolve returns the image path for model. Names that could escape the
// directory never match.
func (r *Resolver) Resolve(model string) (string, bool) {
	model = strings.TrimSpace(model)
	if model == "" || strings.ContainsAny(model, `/\`) || model == "." || model == ".." {
		return "", false
	}
	key := strings.ToLower(model)

	r.mu.Lock()
	defer r.mu.Unlock()

	if path, ok := r.entries[key]; ok {
		return path, path != ""
	}

	path := r.lookupLocked(model)
	r.storeLocked(key, path)
	return path, path != ""
}

func (r *Resolver) lookupLocked(model string) string {
	if r.dir == "" {
		return ""
	}
	candidates := []string{model}
	if filepath.Ext(model) == "" {
		for _, ext := range Extensions {
			candidates = append(candidates, model+ext)
		}
	}
	for _, name := range candidates {
		p := filepath.Join(r.dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

func (r *Resolver) storeLocked(key, path string) {
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	r.entries[key] = path
	r.order = append(r.order, key)
}

func (r *Resolver) resetLocked() {
	r.entries = make(map[string]string, r.capacity)
	r.order = nil
}

// Watch invalidates the cache whenever the directory changes, until ctx is
// done. The directory must exist when Watch starts.
func (r *Resolver) Watch(ctx context.Context, log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := r.Dir()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.moved:
			next := r.Dir()
			if next == dir {
				continue
			}
			_ = w.Remove(dir)
			if err := w.Add(next); err != nil {
				log.Warn("watch model images", zap.String("dir", next), zap.Error(err))
			}
			dir = next
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				log.Debug("model images changed", zap.String("file", ev.Name))
				r.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				r.Invalidate()
			}
			log.Warn("model image watcher", zap.Error(err))
		}
	}
}
