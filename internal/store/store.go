package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultBusyTimeout bounds how long a statement waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// ErrHostnameTaken is returned by InsertUnique and UpdateUnique when another
// row already uses the hostname, compared case-insensitively.
var ErrHostnameTaken = errors.New("hostname already in use")

// ListFilter holds optional query parameters for listing assets.
type ListFilter struct {
	Site     string
	Room     string
	PageSize int
	Page     int
}

// Options tune Open.
type Options struct {
	BusyTimeout time.Duration
	Logger      *zap.Logger
}

// Store provides CRUD operations for asset records.
type Store struct {
	db   *sql.DB
	x    *sqlx.DB
	path string
	log  *zap.Logger
}

// Open opens the SQLite database at path and brings its schema up to date.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dsn, err := fileDSN(path, opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := Initialize(ctx, db, opts.BusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	opts.Logger.Debug("store opened", zap.String("path", path))

	return &Store{
		db:   db,
		x:    sqlx.NewDb(db, "sqlite"),
		path: path,
		log:  opts.Logger,
	}, nil
}

// fileDSN builds a file: URI so that characters such as ? or # in path stay
// part of the file name. Transactions start IMMEDIATE so that a check and
// the write that depends on it cannot interleave with another writer.
func fileDSN(path string, busyTimeout time.Duration) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "synchronous(normal)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	u := url.URL{Scheme: "file", Path: p, RawQuery: q.Encode()}
	return u.String(), nil
}

// Path is the database file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection. SQLite folds the WAL back into the
// main file when the last connection goes away.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint copies the WAL into the main file and truncates it, so that the
// database file alone holds every committed row.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert stores rec and returns its new ID.
func (s *Store) Insert(ctx context.Context, rec *Record) (int64, error) {
	return insert(ctx, s.db, rec)
}

// InsertUnique is Insert, refused with ErrHostnameTaken when the hostname is
// already in use. The check and the insert run in one transaction.
func (s *Store) InsertUnique(ctx context.Context, rec *Record) (id int64, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkName(ctx, tx, rec.Hostname, 0); err != nil {
			return err
		}
		id, err = insert(ctx, tx, rec)
		return err
	})
	return id, err
}

func insert(ctx context.Context, db execer, rec *Record) (int64, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO assets (`+writeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.values()...,
	)
	if err != nil {
		return 0, fmt.Errorf("insert asset: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// Update overwrites every column of the row with rec.ID.
func (s *Store) Update(ctx context.Context, rec *Record) error {
	return update(ctx, s.db, rec)
}

// UpdateUnique is Update, refused with ErrHostnameTaken when another row
// uses the hostname. The check and the update run in one transaction.
func (s *Store) UpdateUnique(ctx context.Context, rec *Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkName(ctx, tx, rec.Hostname, rec.ID); err != nil {
			return err
		}
		return update(ctx, tx, rec)
	})
}

func update(ctx context.Context, db execer, rec *Record) error {
	result, err := db.ExecContext(ctx,
		`UPDATE assets SET
		   hostname = ?, serial_number = ?, model = ?, assigned_user = ?, location = ?,
		   site = ?, room = ?, ipv4_wired = ?, ipv4_wifi = ?, mac_wired = ?, mac_wifi = ?,
		   vlan = ?, note = ?, warranty = ?, maintenance = ?, status = ?,
		   purchase_date = ?, commissioned_date = ?, modified_at = ?
		 WHERE id = ?`,
		append(rec.values(), rec.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// Get retrieves an asset by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	var r row
	err := s.x.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM assets WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	rec := r.record()
	return &rec, nil
}

// Delete removes an asset by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// NameExists reports whether another row already uses name, compared
// case-insensitively. excludeID 0 checks every row.
func (s *Store) NameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	return nameExists(ctx, s.db, name, excludeID)
}

func nameExists(ctx context.Context, db execer, name string, excludeID int64) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM assets WHERE casefold(hostname) = casefold(?) AND id <> ?`,
		strings.TrimSpace(name), excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check hostname: %w", err)
	}
	return n > 0, nil
}

func checkName(ctx context.Context, db execer, name string, excludeID int64) error {
	taken, err := nameExists(ctx, db, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrHostnameTaken
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return n, nil
}

// List returns assets matching f ordered by hostname, case-insensitively,
// together with the total number of matches. A zero PageSize returns every
// match.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Record, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.x.GetContext(ctx, &total, "SELECT COUNT(*) FROM assets"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM assets` + where + ` ORDER BY casefold(hostname), id`
	if f.PageSize > 0 {
		page := f.Page
		if page <= 0 {
			page = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.PageSize, (page-1)*f.PageSize)
	}

	var rows []row
	if err := s.x.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assets: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}

	return records, total, nil
}

func buildWhere(f ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if f.Site != "" {
		conditions = append(conditions, "casefold(site) = casefold(?)")
		args = append(args, f.Site)
	}
	if f.Room != "" {
		conditions = append(conditions, "casefold(room) = casefold(?)")
		args = append(args, f.Room)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// IsConstraintViolation reports whether err came from a UNIQUE or NOT NULL
// constraint.
func IsConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
