package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSameFile is returned when the candidate is the active database itself.
var ErrSameFile = errors.New("candidate is the active database")

// ReplaceError reports a failure while the active file was being replaced.
// The database may be in either state; SnapshotPath (if set) holds the copy
// taken just before.
type ReplaceError struct {
	SnapshotPath string
	Err          error
}

func (e *ReplaceError) Error() string {
	if e.SnapshotPath == "" {
		return fmt.Sprintf("replace active database: %v", e.Err)
	}
	return fmt.Sprintf("replace active database: %v (previous data saved to %s)", e.Err, e.SnapshotPath)
}

func (e *ReplaceError) Unwrap() error {
	return e.Err
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	Candidate string
	Active    string
	BackupDir string
	Now       time.Time
	// OperationID names the temporary file; a random one is used if empty.
	OperationID string
	Logger      *zap.Logger
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	SnapshotPath string
	// Atomic is false when the fallback copy replaced the file.
	Atomic bool
}

// rename is swapped in tests to force the copy fallback.
var rename = os.Rename

// Restore replaces the active database with the candidate. The active store
// must be closed. Before the final rename nothing outside the temporary
// file is modified, so any error up to that point leaves the active
// database as it was.
func Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.OperationID == "" {
		opts.OperationID = uuid.NewString()
	}

	if SameFile(opts.Candidate, opts.Active) {
		return nil, ErrSameFile
	}

	if err := os.MkdirAll(filepath.Dir(opts.Active), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// The copy sits next to the active file so the rename stays on one
	// volume.
	tmp := opts.Active + ".restore-" + opts.OperationID + ".tmp"
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove restore temp file", zap.String("path", tmp), zap.Error(err))
		}
		if err := RemoveSidecars(tmp); err != nil {
			log.Warn("remove restore temp sidecars", zap.String("path", tmp), zap.Error(err))
		}
	}()

	if err := copyFile(opts.Candidate, tmp); err != nil {
		return nil, fmt.Errorf("copy candidate: %w", err)
	}
	if err := Validate(ctx, tmp); err != nil {
		var ibe *InvalidBackupError
		if errors.As(err, &ibe) {
			ibe.Path = opts.Candidate
		}
		return nil, err
	}

	result := &RestoreResult{Atomic: true}

	hasData, err := nonEmpty(opts.Active)
	if err != nil {
		return nil, fmt.Errorf("stat active database: %w", err)
	}
	if hasData {
		if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
		snap := filepath.Join(opts.BackupDir, SnapshotName(PreRestorePrefix, opts.Now))
		if err := copyFile(opts.Active, snap); err != nil {
			return nil, fmt.Errorf("pre-restore snapshot: %w", err)
		}
		result.SnapshotPath = snap
		log.Info("pre-restore snapshot written", zap.String("path", snap))
	}

	if err := RemoveSidecars(opts.Active); err != nil {
		return nil, fmt.Errorf("remove active sidecars: %w", err)
	}

	if err := rename(tmp, opts.Active); err != nil {
		log.Warn("atomic rename failed, copying instead", zap.Error(err))
		if err := replaceByCopy(tmp, opts.Active); err != nil {
			return nil, &ReplaceError{SnapshotPath: result.SnapshotPath, Err: err}
		}
		result.Atomic = false
	}

	if err := RemoveSidecars(opts.Active); err != nil {
		return nil, &ReplaceError{SnapshotPath: result.SnapshotPath, Err: err}
	}

	return result, nil
}

// replaceByCopy overwrites dst with src and checks the bytes landed.
func replaceByCopy(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("copy over active database: %w", err)
	}
	same, err := sameContent(src, dst)
	if err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if !same {
		return errors.New("verify copy: content differs")
	}
	return nil
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		doneB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}
