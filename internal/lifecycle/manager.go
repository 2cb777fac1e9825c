// Package lifecycle owns the open store: it opens and migrates it at start,
// takes the startup snapshot, serialises record access against restores and
// swaps the database file when a restore is confirmed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-tangra/go-tangra-assets/internal/backup"
	"github.com/go-tangra/go-tangra-assets/internal/config"
	"github.com/go-tangra/go-tangra-assets/internal/filelock"
	"github.com/go-tangra/go-tangra-assets/internal/metrics"
	"github.com/go-tangra/go-tangra-assets/internal/store"
)

// ErrClosed is returned by record operations while no store is open.
var ErrClosed = errors.New("store is not open")

// Options configure a Manager.
type Options struct {
	Layout      config.Layout
	Retention   int
	BusyTimeout time.Duration
	Logger      *zap.Logger
	// Now is the clock used for snapshot names.
	Now func() time.Time
	// OnAvailability is told when the store goes away for a restore and
	// when it is back.
	OnAvailability func(available bool)
}

// Manager is the single owner of the store handle.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	store *store.Store
	// lock is shared while the store is open and exclusive during a
	// restore, so that no other process restores underneath this one.
	lock *filelock.Lock
}

// New returns a manager; nothing is opened until Open or Start.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention == 0 {
		opts.Retention = backup.DefaultRetention
	}
	return &Manager{opts: opts, log: opts.Logger.Named("lifecycle")}
}

// Layout is the directory layout the manager works in.
func (m *Manager) Layout() config.Layout {
	return m.opts.Layout
}

// Open creates the directory layout and opens the store. Any failure here is
// fatal for the process. It fails with filelock.ErrLocked while another
// process is restoring.
func (m *Manager) Open(ctx context.Context) error {
	if err := m.opts.Layout.Ensure(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		return nil
	}
	return m.openLocked(ctx)
}

// Start opens the store and takes the startup snapshot. Only opening can
// fail; a failed snapshot is logged.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Open(ctx); err != nil {
		return err
	}
	if _, err := m.backup(ctx, "startup"); err != nil {
		m.log.Error("startup backup failed", zap.Error(err))
	}
	return nil
}

// Backup takes an on-demand snapshot and applies retention.
func (m *Manager) Backup(ctx context.Context) (*backup.RotateResult, error) {
	return m.backup(ctx, "manual")
}

func (m *Manager) backup(ctx context.Context, trigger string) (*backup.RotateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Checkpoint(ctx); err != nil {
			metrics.BackupsTotal.WithLabelValues(trigger, metrics.ResultError).Inc()
			return nil, err
		}
	}

	res, err := backup.Rotate(m.opts.Layout.DatabasePath, m.opts.Layout.BackupsDir, m.opts.Retention, m.opts.Now())
	if res != nil {
		metrics.BackupsPruned.Add(float64(len(res.Removed)))
	}
	switch {
	case err != nil:
		metrics.BackupsTotal.WithLabelValues(trigger, metrics.ResultError).Inc()
		return res, fmt.Errorf("rotate backups: %w", err)
	case res.Skipped:
		metrics.BackupsTotal.WithLabelValues(trigger, metrics.ResultSkipped).Inc()
		m.log.Info("backup skipped, store is empty", zap.String("trigger", trigger))
	default:
		metrics.BackupsTotal.WithLabelValues(trigger, metrics.ResultOK).Inc()
		m.log.Info("backup written",
			zap.String("trigger", trigger),
			zap.String("path", res.Created),
			zap.Int("pruned", len(res.Removed)))
	}
	return res, nil
}

// RunPeriodicBackups takes a snapshot every interval until ctx is done.
func (m *Manager) RunPeriodicBackups(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.backup(ctx, "scheduled"); err != nil {
				m.log.Error("scheduled backup failed", zap.Error(err))
			}
		}
	}
}

// Backups lists the snapshots on disk, newest first.
func (m *Manager) Backups() ([]backup.Snapshot, error) {
	return backup.List(m.opts.Layout.BackupsDir)
}

// Validate checks a restore candidate without touching the store.
func (m *Manager) Validate(ctx context.Context, candidate string) error {
	err := backup.Validate(ctx, candidate)
	reason := "ok"
	if r, ok := backup.ReasonOf(err); ok {
		reason = string(r)
	} else if err != nil {
		reason = metrics.ResultError
	}
	metrics.ValidationsTotal.WithLabelValues(reason).Inc()
	return err
}

// Restore replaces the active database with candidate. Record operations
// wait until it finishes. The store is reopened, and its schema brought up
// to date, whether or not the swap succeeded.
func (m *Manager) Restore(ctx context.Context, candidate string) (res *backup.RestoreResult, err error) {
	started := time.Now()
	defer func() {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
			if _, ok := backup.ReasonOf(err); ok {
				result = metrics.ResultInvalid
			}
		}
		metrics.RestoresTotal.WithLabelValues(result).Inc()
	}()

	if backup.SameFile(candidate, m.opts.Layout.DatabasePath) {
		return nil, backup.ErrSameFile
	}
	if err := m.Validate(ctx, candidate); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lockExclusive(); err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	defer func() {
		if derr := m.lock.Downgrade(); derr != nil {
			m.log.Warn("release restore lock", zap.Error(derr))
		}
	}()

	m.setAvailable(false)
	defer func() { metrics.RestoreDuration.Observe(time.Since(started).Seconds()) }()

	// Once the store is closed the swap and the reopen run to completion
	// even if the caller gives up.
	ctx = context.WithoutCancel(ctx)

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.log.Warn("close store before restore", zap.Error(err))
		}
		m.store = nil
	}

	opID := uuid.NewString()
	log := m.log.With(zap.String("candidate", candidate), zap.String("operation", opID))
	res, err = backup.Restore(ctx, backup.RestoreOptions{
		Candidate:   candidate,
		Active:      m.opts.Layout.DatabasePath,
		BackupDir:   m.opts.Layout.BackupsDir,
		Now:         m.opts.Now(),
		OperationID: opID,
		Logger:      log,
	})
	if err != nil {
		log.Error("restore failed", zap.Error(err))
	} else {
		log.Info("restore complete", zap.String("snapshot", res.SnapshotPath), zap.Bool("atomic", res.Atomic))
	}

	if oerr := m.openLocked(ctx); oerr != nil {
		log.Error("reopen store after restore", zap.Error(oerr))
		return res, errors.Join(err, oerr)
	}
	m.setAvailable(true)

	return res, err
}

// lockExclusive takes the store lock exclusively, upgrading the shared lock
// held while the store is open. Any other process with the store open makes
// it fail with filelock.ErrLocked.
func (m *Manager) lockExclusive() error {
	if m.lock == nil {
		lock, err := filelock.TryLock(m.lockPath())
		if err != nil {
			return err
		}
		m.lock = lock
		return nil
	}
	return m.lock.Upgrade()
}

func (m *Manager) lockPath() string {
	return m.opts.Layout.DatabasePath + ".lock"
}

// Close closes the store. Later record operations fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.store != nil {
		err = m.store.Close()
		m.store = nil
	}
	if m.lock != nil {
		if uerr := m.lock.Unlock(); err == nil {
			err = uerr
		}
		m.lock = nil
	}
	return err
}

// openLocked opens the store, first taking the shared store lock if it is
// not already held. A lock taken here is released again if opening fails.
func (m *Manager) openLocked(ctx context.Context) error {
	acquired := false
	if m.lock == nil {
		lock, err := filelock.TryLockShared(m.lockPath())
		if err != nil {
			return fmt.Errorf("lock store: %w", err)
		}
		m.lock = lock
		acquired = true
	}

	s, err := store.Open(ctx, m.opts.Layout.DatabasePath, store.Options{
		BusyTimeout: m.opts.BusyTimeout,
		Logger:      m.opts.Logger.Named("store"),
	})
	if err != nil {
		if acquired {
			_ = m.lock.Unlock()
			m.lock = nil
		}
		return err
	}
	m.store = s
	return nil
}

func (m *Manager) setAvailable(ok bool) {
	if m.opts.OnAvailability != nil {
		m.opts.OnAvailability(ok)
	}
}

// withStore runs fn under the read lock.
func (m *Manager) withStore(fn func(*store.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.store == nil {
		return ErrClosed
	}
	return fn(m.store)
}
