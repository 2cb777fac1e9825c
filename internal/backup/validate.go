package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Reason identifies which validation step rejected a candidate.
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonNotRegular    Reason = "not_regular"
	ReasonEmpty         Reason = "empty"
	ReasonNotDatabase   Reason = "not_database"
	ReasonMissingTable  Reason = "missing_table"
	ReasonMissingColumn Reason = "missing_column"
	ReasonUnreadable    Reason = "unreadable"
)

var reasonText = map[Reason]string{
	ReasonNotFound:      "file not found",
	ReasonNotRegular:    "not a regular file",
	ReasonEmpty:         "file is empty",
	ReasonNotDatabase:   "not a readable database",
	ReasonMissingTable:  "asset table is missing",
	ReasonMissingColumn: "required column is missing",
	ReasonUnreadable:    "asset table cannot be read",
}

// RequiredTable must exist in a restorable file.
const RequiredTable = "assets"

// RequiredColumns must exist in RequiredTable.
var RequiredColumns = []string{"hostname", "site", "room"}

// InvalidBackupError explains why a file cannot be restored.
type InvalidBackupError struct {
	Path   string
	Reason Reason
	// Detail names the missing column for ReasonMissingColumn.
	Detail string
	Err    error
}

func (e *InvalidBackupError) Error() string {
	msg := fmt.Sprintf("invalid backup %s: %s", filepath.Base(e.Path), reasonText[e.Reason])
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidBackupError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ibe *InvalidBackupError
	if errors.As(err, &ibe) {
		return ibe.Reason, true
	}
	return "", false
}

// Validate checks that path holds a database this application can restore.
// The file is opened read-only and left as it was found.
func Validate(ctx context.Context, path string) error {
	invalid := func(r Reason, detail string, err error) error {
		// A cancelled caller says nothing about the file.
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return &InvalidBackupError{Path: path, Reason: r, Detail: detail, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return invalid(ReasonNotFound, "", nil)
		}
		return invalid(ReasonNotFound, "", err)
	}
	if !info.Mode().IsRegular() {
		return invalid(ReasonNotRegular, "", nil)
	}
	if info.Size() == 0 {
		return invalid(ReasonEmpty, "", nil)
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return invalid(ReasonNotDatabase, "", err)
	}

	before := existingSidecars(path)
	defer func() {
		for _, p := range Sidecars(path) {
			if !before[p] {
				_ = os.Remove(p)
			}
		}
	}()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return invalid(ReasonNotDatabase, "", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var tables int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master`).Scan(&tables); err != nil {
		return invalid(ReasonNotDatabase, "", err)
	}

	var table string
	err = db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND lower(name) = ? LIMIT 1`, RequiredTable).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return invalid(ReasonMissingTable, RequiredTable, nil)
	}
	if err != nil {
		return invalid(ReasonNotDatabase, "", err)
	}

	columns, err := tableColumns(ctx, db, table)
	if err != nil {
		return invalid(ReasonUnreadable, "", err)
	}
	for _, c := range RequiredColumns {
		if !columns[c] {
			return invalid(ReasonMissingColumn, c, nil)
		}
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+quoteIdent(table)).Scan(&n); err != nil {
		return invalid(ReasonUnreadable, "", err)
	}

	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}

// readOnlyDSN builds a file: URI so that the driver opens path without
// write access and without creating it.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro&_pragma=busy_timeout(5000)"}
	return u.String(), nil
}
