package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyTableSQL = `
CREATE TABLE asset (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    hostname          TEXT NOT NULL UNIQUE,
    serial_number     TEXT,
    model             TEXT,
    assigned_user     TEXT,
    location          TEXT,
    site              TEXT,
    room              TEXT,
    ipv4_wired        TEXT,
    ipv4_wifi         TEXT,
    mac_wired         TEXT,
    mac_wifi          TEXT,
    vlan              TEXT,
    note              TEXT,
    warranty          INTEGER NOT NULL DEFAULT 0,
    purchase_date     TEXT,
    commissioned_date TEXT
)`

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "inventory.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// rawDB opens a file without running Initialize, for preparing old layouts.
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	return db
}

func dumpLayout(t *testing.T, db *sql.DB) []byte {
	t.Helper()
	var b strings.Builder

	rows, err := db.Query(`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info('assets') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk))
		fmt.Fprintf(&b, "%d|%s|%s|%d|%s|%d\n", cid, name, typ, notNull, dflt.String, pk)
	}
	require.NoError(t, rows.Err())

	idx, err := db.Query(`SELECT name FROM sqlite_master
		WHERE type = 'index' AND tbl_name = 'assets' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer idx.Close()
	for idx.Next() {
		var name string
		require.NoError(t, idx.Scan(&name))
		fmt.Fprintf(&b, "index %s\n", name)
	}
	require.NoError(t, idx.Err())

	return []byte(b.String())
}

func TestInitializeFreshLayout(t *testing.T) {
	s := openTest(t)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "assets_fresh", dumpLayout(t, s.DB()))

	v, err := UserVersion(context.Background(), s.DB())
	require.NoError(t, err)
	assert.Equal(t, SchemaRevision, v)
}

func TestInitializeMigratesLegacyTable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inventory.db")

	db := rawDB(t, path)
	_, err := db.Exec(legacyTableSQL)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO asset (hostname, site, room, warranty, purchase_date) VALUES ('PC-001', 'North', 'R12', 1, '15.01.2024')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "assets_migrated", dumpLayout(t, s.DB()))

	legacy, err := tableExists(ctx, s.DB(), legacyTableName)
	require.NoError(t, err)
	assert.False(t, legacy)

	recs, total, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	rec := recs[0]
	assert.Equal(t, "PC-001", rec.Hostname)
	assert.True(t, rec.Warranty)
	assert.Equal(t, StatusOk, rec.Status)
	assert.Nil(t, rec.ModifiedAt)
	require.NotNil(t, rec.PurchaseDate)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *rec.PurchaseDate)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Insert(ctx, &Record{Hostname: "PC-001"})
	require.NoError(t, err)
	before := dumpLayout(t, s.DB())

	for i := 0; i < 3; i++ {
		require.NoError(t, Initialize(ctx, s.DB(), DefaultBusyTimeout))
	}

	assert.Equal(t, string(before), string(dumpLayout(t, s.DB())))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInitializeKeepsCurrentTableWhenBothExist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inventory.db")

	db := rawDB(t, path)
	_, err := db.Exec(legacyTableSQL)
	require.NoError(t, err)
	_, err = db.Exec(createTableSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	legacy, err := tableExists(ctx, s.DB(), legacyTableName)
	require.NoError(t, err)
	assert.True(t, legacy)
}

func TestOpenUsesWAL(t *testing.T) {
	s := openTest(t)

	var mode string
	require.NoError(t, s.DB().QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	purchased := time.Date(2023, 5, 2, 0, 0, 0, 0, time.UTC)
	modified := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	in := &Record{
		Hostname:     "PC-042",
		SerialNumber: "SN-1",
		Model:        "OptiPlex 7010",
		AssignedUser: "jdoe",
		Location:     "North, R12",
		Site:         "North",
		Room:         "R12",
		IPv4Wired:    "10.0.0.42",
		MACWired:     "00:11:22:33:44:55",
		VLAN:         "120",
		Note:         "spare keyboard",
		Warranty:     true,
		Status:       StatusMaintenance,
		PurchaseDate: &purchased,
		ModifiedAt:   &modified,
	}

	id, err := s.Insert(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, in.Hostname, got.Hostname)
	assert.Equal(t, in.Model, got.Model)
	assert.Equal(t, in.Location, got.Location)
	assert.Equal(t, in.Note, got.Note)
	assert.Equal(t, in.Warranty, got.Warranty)
	assert.Equal(t, StatusMaintenance, got.Status)
	assert.Empty(t, got.IPv4WiFi)
	assert.Nil(t, got.CommissionedDate)
	require.NotNil(t, got.PurchaseDate)
	assert.Equal(t, purchased, *got.PurchaseDate)
	require.NotNil(t, got.ModifiedAt)
	assert.True(t, modified.Equal(*got.ModifiedAt))

	var flag int
	require.NoError(t, s.DB().QueryRow(`SELECT maintenance FROM assets WHERE id = ?`, id).Scan(&flag))
	assert.Equal(t, 1, flag)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	id, err := s.Insert(ctx, &Record{Hostname: "PC-1", Status: StatusMaintenance})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, &Record{ID: id, Hostname: "PC-1", Status: StatusMissing}))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, got.Status)

	var flag int
	require.NoError(t, s.DB().QueryRow(`SELECT maintenance FROM assets WHERE id = ?`, id).Scan(&flag))
	assert.Equal(t, 0, flag)

	assert.ErrorIs(t, s.Update(ctx, &Record{ID: id + 100, Hostname: "PC-X"}), sql.ErrNoRows)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, s.Delete(ctx, id), sql.ErrNoRows)
}

func TestStatusResolution(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	cases := []struct {
		host        string
		maintenance int
		status      any
		want        Status
	}{
		{"flag-only", 1, nil, StatusMaintenance},
		{"blank-text", 1, "  ", StatusMaintenance},
		{"unknown-text", 1, "broken", StatusMaintenance},
		{"text-wins", 1, "missing", StatusMissing},
		{"text-ok", 1, "OK", StatusOk},
		{"nothing", 0, nil, StatusOk},
	}
	for _, c := range cases {
		_, err := s.DB().Exec(`INSERT INTO assets (hostname, maintenance, status) VALUES (?, ?, ?)`, c.host, c.maintenance, c.status)
		require.NoError(t, err)
	}

	recs, _, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	byHost := map[string]Status{}
	for _, r := range recs {
		byHost[r.Hostname] = r.Status
	}
	for _, c := range cases {
		assert.Equal(t, c.want, byHost[c.host], c.host)
	}
}

func TestLegacyTimestampsResolve(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	values := []any{"2024-01-15 10:30:00", "15.01.2024 10:30", want.UnixMilli(), "not-a-date"}
	for i, v := range values {
		_, err := s.DB().Exec(`INSERT INTO assets (hostname, modified_at) VALUES (?, ?)`, fmt.Sprintf("PC-%d", i), v)
		require.NoError(t, err)
	}

	recs, _, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, r := range recs[:3] {
		require.NotNil(t, r.ModifiedAt, r.Hostname)
		assert.True(t, want.Equal(*r.ModifiedAt), r.Hostname)
	}
	assert.Nil(t, recs[3].ModifiedAt)
}

func TestNameExistsFoldsCase(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	id, err := s.Insert(ctx, &Record{Hostname: "Poste-Élève"})
	require.NoError(t, err)

	for _, name := range []string{"poste-élève", "POSTE-ÉLÈVE", "  Poste-Élève "} {
		ok, err := s.NameExists(ctx, name, 0)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	ok, err := s.NameExists(ctx, "POSTE-ÉLÈVE", id)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.NameExists(ctx, "other", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Insert(ctx, &Record{Hostname: "Straße-1"})
	require.NoError(t, err)
	ok, err = s.NameExists(ctx, "STRASSE-1", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUniqueWritesFoldCase(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	a, err := s.InsertUnique(ctx, &Record{Hostname: "PC-A"})
	require.NoError(t, err)
	b, err := s.InsertUnique(ctx, &Record{Hostname: "PC-B"})
	require.NoError(t, err)

	_, err = s.InsertUnique(ctx, &Record{Hostname: "pc-a"})
	assert.ErrorIs(t, err, ErrHostnameTaken)

	assert.ErrorIs(t, s.UpdateUnique(ctx, &Record{ID: b, Hostname: "PC-a"}), ErrHostnameTaken)
	require.NoError(t, s.UpdateUnique(ctx, &Record{ID: a, Hostname: "pc-a"}))
	assert.ErrorIs(t, s.UpdateUnique(ctx, &Record{ID: b + 100, Hostname: "PC-X"}), sql.ErrNoRows)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentUniqueInsertsKeepOneName(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	for round := 0; round < 20; round++ {
		name := fmt.Sprintf("host%d", round)
		variants := []string{name, strings.ToUpper(name), "Host" + name[4:]}

		var wg sync.WaitGroup
		errs := make([]error, len(variants))
		for i, v := range variants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.InsertUnique(ctx, &Record{Hostname: v})
			}()
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, ErrHostnameTaken)
			}
		}
		assert.Equal(t, 1, ok, name)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestOpenPathWithURICharacters(t *testing.T) {
	ctx := context.Background()
	name := "odd #dir%3F"
	if runtime.GOOS != "windows" {
		name += "?mode=ro"
	}
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "inventory.db")

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &Record{Hostname: "PC-1"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	s, err = Open(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUniqueIndexIsConstraintViolation(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Insert(ctx, &Record{Hostname: "PC-1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, &Record{Hostname: "PC-1"})
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
	assert.False(t, IsConstraintViolation(sql.ErrNoRows))
}

func TestListOrderFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	for _, r := range []Record{
		{Hostname: "charlie", Site: "North"},
		{Hostname: "Alpha", Site: "north"},
		{Hostname: "bravo", Site: "South"},
		{Hostname: "Delta", Site: "North", Room: "R1"},
	} {
		_, err := s.Insert(ctx, &r)
		require.NoError(t, err)
	}

	all, total, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	var names []string
	for _, r := range all {
		names = append(names, r.Hostname)
	}
	assert.Equal(t, []string{"Alpha", "bravo", "charlie", "Delta"}, names)

	north, total, err := s.List(ctx, ListFilter{Site: "NORTH"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, north, 3)

	page, total, err := s.List(ctx, ListFilter{PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "charlie", page[0].Hostname)

	room, _, err := s.List(ctx, ListFilter{Site: "north", Room: "r1"})
	require.NoError(t, err)
	require.Len(t, room, 1)
	assert.Equal(t, "Delta", room[0].Hostname)
}

func TestCheckpointEmptiesWAL(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Insert(ctx, &Record{Hostname: "PC-1"})
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(ctx))

	copyDB := rawDB(t, s.Path())
	defer copyDB.Close()
	var n int
	require.NoError(t, copyDB.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStatusText(t *testing.T) {
	var st Status
	require.NoError(t, st.UnmarshalText([]byte("maintenance")))
	assert.Equal(t, StatusMaintenance, st)
	require.NoError(t, st.UnmarshalText([]byte("")))
	assert.Equal(t, StatusOk, st)
	assert.Error(t, st.UnmarshalText([]byte("lost")))

	b, err := StatusMissing.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Missing", string(b))
	assert.Equal(t, "Status(9)", Status(9).String())
}
