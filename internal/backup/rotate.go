package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetention is how many rotated snapshots are kept.
const DefaultRetention = 20

// RotateResult reports what Rotate did.
type RotateResult struct {
	// Skipped is set when the active database was absent or empty.
	Skipped bool
	Created string
	Removed []string
}

// Rotate copies the active database into backupDir as a timestamped snapshot
// and then deletes all but the retention newest snapshots. Files that do not
// look like rotated snapshots are never touched. A retention below one keeps
// every snapshot.
func Rotate(activePath, backupDir string, retention int, now time.Time) (*RotateResult, error) {
	ok, err := nonEmpty(activePath)
	if err != nil {
		return nil, fmt.Errorf("stat active database: %w", err)
	}
	if !ok {
		return &RotateResult{Skipped: true}, nil
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	dst := filepath.Join(backupDir, SnapshotName(SnapshotPrefix, now))
	if err := copyFile(activePath, dst); err != nil {
		return nil, fmt.Errorf("copy snapshot: %w", err)
	}
	// The name carries the snapshot time; keep the mtime in step so ordering
	// by either agrees.
	if err := os.Chtimes(dst, now, now); err != nil {
		return nil, fmt.Errorf("stamp snapshot: %w", err)
	}

	result := &RotateResult{Created: dst}
	if retention < 1 {
		return result, nil
	}

	all, err := List(backupDir)
	if err != nil {
		return result, err
	}
	var rotated []Snapshot
	for _, s := range all {
		if s.Kind == KindSnapshot {
			rotated = append(rotated, s)
		}
	}
	if len(rotated) <= retention {
		return result, nil
	}

	var errs []error
	for _, s := range rotated[retention:] {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", s.Name, err))
			continue
		}
		result.Removed = append(result.Removed, s.Path)
	}

	return result, errors.Join(errs...)
}
