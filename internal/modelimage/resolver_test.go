package modelimage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
}

func TestResolveCandidates(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "OptiPlex 7010.jpg"))
	touch(t, filepath.Join(dir, "latitude.webp"))
	touch(t, filepath.Join(dir, "exact.bmp"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.png"), 0o755))

	r := New(dir, 0)

	p, ok := r.Resolve("OptiPlex 7010")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "OptiPlex 7010.jpg"), p)

	p, ok = r.Resolve(" latitude ")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "latitude.webp"), p)

	_, ok = r.Resolve("exact.bmp")
	assert.True(t, ok)

	for _, bad := range []string{"", "folder", "../etc/passwd", `..\boot`, "..", "unknown"} {
		_, ok = r.Resolve(bad)
		assert.False(t, ok, bad)
	}
}

func TestMissesAreCachedUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)

	_, ok := r.Resolve("m1")
	require.False(t, ok)

	touch(t, filepath.Join(dir, "m1.png"))
	_, ok = r.Resolve("m1")
	assert.False(t, ok)

	r.Invalidate()
	_, ok = r.Resolve("M1")
	assert.True(t, ok)
}

func TestCacheIsBounded(t *testing.T) {
	r := New(t.TempDir(), 4)

	for i := 0; i < 10; i++ {
		r.Resolve(fmt.Sprintf("model-%d", i))
	}
	assert.Equal(t, 4, r.Len())

	r.mu.Lock()
	_, oldest := r.entries["model-0"]
	_, newest := r.entries["model-9"]
	r.mu.Unlock()
	assert.False(t, oldest)
	assert.True(t, newest)
}

func TestSetDirectoryClearsCache(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	touch(t, filepath.Join(second, "m.png"))

	r := New(first, 0)
	_, ok := r.Resolve("m")
	require.False(t, ok)

	r.SetDirectory(second)
	assert.Equal(t, second, r.Dir())
	assert.Zero(t, r.Len())
	_, ok = r.Resolve("m")
	assert.True(t, ok)
}

func TestWatchInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, zap.NewNop()) }()

	_, ok := r.Resolve("late")
	require.False(t, ok)

	// The watcher may not be registered yet; keep creating files until an
	// event clears the cached miss.
	require.Eventually(t, func() bool {
		touch(t, filepath.Join(dir, "late.png"))
		_, ok := r.Resolve("late")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchFollowsSetDirectory(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	r := New(first, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, zap.NewNop()) }()

	r.SetDirectory(second)
	_, ok := r.Resolve("moved")
	require.False(t, ok)

	// Only events in the new directory can clear the cached miss.
	require.Eventually(t, func() bool {
		touch(t, filepath.Join(second, "moved.png"))
		_, ok := r.Resolve("moved")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
