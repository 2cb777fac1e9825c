//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows

package filelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "inventory.db.lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())

	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	again, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestSharedLocksExcludeExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.db.lock")

	a, err := TryLockShared(path)
	require.NoError(t, err)
	defer a.Unlock()
	b, err := TryLockShared(path)
	require.NoError(t, err)

	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	// Another shared holder blocks the upgrade and a keeps its shared lock.
	assert.ErrorIs(t, a.Upgrade(), ErrLocked)
	assert.False(t, a.Exclusive())
	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, b.Unlock())
	require.NoError(t, a.Upgrade())
	assert.True(t, a.Exclusive())

	_, err = TryLockShared(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, a.Downgrade())
	assert.False(t, a.Exclusive())
	c, err := TryLockShared(path)
	require.NoError(t, err)
	require.NoError(t, c.Unlock())
}
