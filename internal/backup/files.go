// Package backup snapshots, validates and restores the asset database file.
//
// Every function works on closed files: callers must close (or checkpoint)
// the live store before handing its path in.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// SnapshotPrefix names snapshots taken at startup or on demand.
	SnapshotPrefix = "inventory_"
	// PreRestorePrefix names the safety copy taken right before a restore.
	PreRestorePrefix = "before_restore_"

	stampLayout = "20060102_150405"
	extension   = ".db"
)

var (
	snapshotPattern   = regexp.MustCompile(`^inventory_\d{8}_\d{6}\.db$`)
	preRestorePattern = regexp.MustCompile(`^before_restore_\d{8}_\d{6}\.db$`)
)

// SnapshotName formats the file name for a snapshot taken at t.
func SnapshotName(prefix string, t time.Time) string {
	return prefix + t.Format(stampLayout) + extension
}

// Kind tells rotated snapshots from pre-restore copies.
type Kind string

const (
	KindSnapshot   Kind = "snapshot"
	KindPreRestore Kind = "before_restore"
)

// Snapshot describes a file in the backups directory.
type Snapshot struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the snapshots in dir, newest first. Unrelated files are
// ignored; a missing dir yields an empty list.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		var kind Kind
		switch {
		case snapshotPattern.MatchString(e.Name()):
			kind = KindSnapshot
		case preRestorePattern.MatchString(e.Name()):
			kind = KindPreRestore
		default:
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(s []Snapshot) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].ModTime.Equal(s[j].ModTime) {
			return s[i].ModTime.After(s[j].ModTime)
		}
		return s[i].Name > s[j].Name
	})
}

// Sidecars returns the write-ahead log and shared-memory files that belong
// to the database at path.
func Sidecars(path string) []string {
	return []string{path + "-wal", path + "-shm"}
}

// RemoveSidecars deletes the sidecars of path that exist.
func RemoveSidecars(path string) error {
	var errs []error
	for _, p := range Sidecars(path) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func existingSidecars(path string) map[string]bool {
	out := make(map[string]bool, 2)
	for _, p := range Sidecars(path) {
		if _, err := os.Lstat(p); err == nil {
			out[p] = true
		}
	}
	return out
}

// copyFile writes src to dst, replacing dst, and flushes it to disk.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// nonEmpty reports whether path is a regular file with content.
func nonEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// SameFile reports whether a and b name the same file.
func SameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && filepath.Clean(absA) == filepath.Clean(absB) {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
