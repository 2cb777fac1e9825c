// Package service is the record-level API the rest of the application uses.
// It validates input, keeps hostnames unique regardless of case and stamps
// modification times.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-tangra/go-tangra-assets/internal/metrics"
	"github.com/go-tangra/go-tangra-assets/internal/store"
)

var (
	ErrNotFound      = errors.New("asset not found")
	ErrDuplicateName = errors.New("hostname already in use")
	ErrInvalid       = errors.New("invalid asset")
)

// Repository is the storage the service writes through.
type Repository interface {
	List(ctx context.Context, f store.ListFilter) ([]store.Record, int, error)
	Get(ctx context.Context, id int64) (*store.Record, error)
	// InsertUnique and UpdateUnique refuse a hostname already in use with
	// store.ErrHostnameTaken, checking and writing atomically.
	InsertUnique(ctx context.Context, rec *store.Record) (int64, error)
	UpdateUnique(ctx context.Context, rec *store.Record) error
	Delete(ctx context.Context, id int64) error
	NameExists(ctx context.Context, name string, excludeID int64) (bool, error)
}

// AssetService implements record CRUD.
type AssetService struct {
	repo Repository
	now  func() time.Time
}

// New returns a service writing to repo.
func New(repo Repository) *AssetService {
	return &AssetService{repo: repo, now: time.Now}
}

// List returns every asset ordered by hostname.
func (s *AssetService) List(ctx context.Context) ([]store.Record, error) {
	recs, _, err := s.repo.List(ctx, store.ListFilter{})
	return recs, err
}

// Search returns assets matching f together with the total match count.
func (s *AssetService) Search(ctx context.Context, f store.ListFilter) ([]store.Record, int, error) {
	return s.repo.List(ctx, f)
}

// Get returns one asset.
func (s *AssetService) Get(ctx context.Context, id int64) (*store.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %d: %w", id, err)
	}
	return rec, nil
}

// Create stores a new asset and returns it as persisted.
func (s *AssetService) Create(ctx context.Context, rec store.Record) (out *store.Record, err error) {
	defer func() { countOp("create", err) }()

	rec.ID = 0
	if err := s.prepare(&rec); err != nil {
		return nil, err
	}

	id, err := s.repo.InsertUnique(ctx, &rec)
	if err != nil {
		if errors.Is(err, store.ErrHostnameTaken) || store.IsConstraintViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	return s.Get(ctx, id)
}

// Update replaces the asset with rec.ID and returns it as persisted.
func (s *AssetService) Update(ctx context.Context, rec store.Record) (out *store.Record, err error) {
	defer func() { countOp("update", err) }()

	if rec.ID <= 0 {
		return nil, fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if err := s.prepare(&rec); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateUnique(ctx, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if errors.Is(err, store.ErrHostnameTaken) || store.IsConstraintViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	return s.Get(ctx, rec.ID)
}

// Delete removes an asset.
func (s *AssetService) Delete(ctx context.Context, id int64) (err error) {
	defer func() { countOp("delete", err) }()

	err = s.repo.Delete(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// NameExists reports whether an asset other than excludeID uses name.
func (s *AssetService) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	return s.repo.NameExists(ctx, name, excludeID)
}

func (s *AssetService) prepare(rec *store.Record) error {
	rec.Hostname = strings.TrimSpace(rec.Hostname)
	if rec.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalid)
	}
	if rec.Status < store.StatusOk || rec.Status > store.StatusMissing {
		return fmt.Errorf("%w: unknown status %d", ErrInvalid, int(rec.Status))
	}

	if strings.TrimSpace(rec.Location) == "" {
		rec.Location = ComposeLocation(rec.Site, rec.Room)
	}

	now := s.now().Truncate(time.Second)
	rec.ModifiedAt = &now
	return nil
}

func countOp(op string, err error) {
	result := metrics.ResultOK
	switch {
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrDuplicateName), errors.Is(err, ErrNotFound):
		result = metrics.ResultInvalid
	case err != nil:
		result = metrics.ResultError
	}
	metrics.RecordOpsTotal.WithLabelValues(op, result).Inc()
}

// ComposeLocation joins site and room into the display location. Either
// part missing yields "".
func ComposeLocation(site, room string) string {
	site, room = strings.TrimSpace(site), strings.TrimSpace(room)
	if site == "" || room == "" {
		return ""
	}
	return site + ", " + room
}

// SplitLocation reverses ComposeLocation at the first comma. Without a comma
// the whole text is the site.
func SplitLocation(location string) (site, room string) {
	before, after, found := strings.Cut(location, ",")
	if !found {
		return strings.TrimSpace(location), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}
