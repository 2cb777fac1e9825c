package lifecycle

import (
	"context"

	"github.com/go-tangra/go-tangra-assets/internal/store"
)

// The methods below let the Manager stand in for the store in
// service.Repository, so that the service keeps working across restores.

func (m *Manager) List(ctx context.Context, f store.ListFilter) (recs []store.Record, total int, err error) {
	err = m.withStore(func(s *store.Store) error {
		recs, total, err = s.List(ctx, f)
		return err
	})
	return recs, total, err
}

func (m *Manager) Get(ctx context.Context, id int64) (rec *store.Record, err error) {
	err = m.withStore(func(s *store.Store) error {
		rec, err = s.Get(ctx, id)
		return err
	})
	return rec, err
}

func (m *Manager) InsertUnique(ctx context.Context, rec *store.Record) (id int64, err error) {
	err = m.withStore(func(s *store.Store) error {
		id, err = s.InsertUnique(ctx, rec)
		return err
	})
	return id, err
}

func (m *Manager) UpdateUnique(ctx context.Context, rec *store.Record) error {
	return m.withStore(func(s *store.Store) error {
		return s.UpdateUnique(ctx, rec)
	})
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	return m.withStore(func(s *store.Store) error {
		return s.Delete(ctx, id)
	})
}

func (m *Manager) NameExists(ctx context.Context, name string, excludeID int64) (ok bool, err error) {
	err = m.withStore(func(s *store.Store) error {
		ok, err = s.NameExists(ctx, name, excludeID)
		return err
	})
	return ok, err
}

// Count returns the number of stored assets.
func (m *Manager) Count(ctx context.Context) (n int, err error) {
	err = m.withStore(func(s *store.Store) error {
		n, err = s.Count(ctx)
		return err
	})
	return n, err
}
