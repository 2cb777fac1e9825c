package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	kratoshttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/go-tangra/go-tangra-assets/internal/config"
	"github.com/go-tangra/go-tangra-assets/internal/filelock"
	"github.com/go-tangra/go-tangra-assets/internal/lifecycle"
	"github.com/go-tangra/go-tangra-assets/internal/modelimage"
	"github.com/go-tangra/go-tangra-assets/internal/service"
	"github.com/go-tangra/go-tangra-assets/internal/store"
)

type fixture struct {
	srv     *kratoshttp.Server
	manager *lifecycle.Manager
	health  *Health
}

func newFixture(t *testing.T, apiSecret string) *fixture {
	t.Helper()

	h := NewHealth()
	m := lifecycle.New(lifecycle.Options{
		Layout:         config.NewLayout(t.TempDir(), ""),
		Logger:         zaptest.NewLogger(t),
		OnAvailability: h.SetAvailable,
	})
	require.NoError(t, m.Open(context.Background()))
	t.Cleanup(func() { m.Close() })

	cfg := &config.Config{HTTPListen: "127.0.0.1:0", ApiSecret: apiSecret}
	srv := NewHTTPServer(cfg, Deps{
		Manager: m,
		Assets:  service.New(m),
		Images:  modelimage.New(m.Layout().ModelsDir, 0),
		Health:  h,
		Logger:  zaptest.NewLogger(t),
	})
	return &fixture{srv: srv, manager: m, health: h}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]any](t, rec)["reason"].(string)
}

func TestAssetCRUD(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/v1/assets", `{"hostname":" PC-1 ","site":"HQ","room":"101"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[store.Record](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "PC-1", created.Hostname)
	assert.Equal(t, "HQ, 101", created.Location)
	require.NotNil(t, created.ModifiedAt)

	rec = f.do(t, http.MethodGet, "/v1/hostnames/pc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[HostnameExistsReply](t, rec).Exists)

	rec = f.do(t, http.MethodGet, "/v1/hostnames/pc-1?exclude_id="+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[HostnameExistsReply](t, rec).Exists)

	rec = f.do(t, http.MethodPost, "/v1/assets", `{"hostname":"pc-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_HOSTNAME", reason(t, rec))

	rec = f.do(t, http.MethodPut, "/v1/assets/"+itoa(created.ID), `{"hostname":"PC-1","status":"maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.StatusMaintenance, decode[store.Record](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/v1/assets?site=HQ", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListAssetsReply](t, rec)
	assert.Equal(t, 0, list.Total)

	rec = f.do(t, http.MethodGet, "/v1/assets?page=1&page_size=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[ListAssetsReply](t, rec)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Assets, 1)

	rec = f.do(t, http.MethodDelete, "/v1/assets/"+itoa(created.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/assets/"+itoa(created.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ASSET_NOT_FOUND", reason(t, rec))
}

func TestAssetRequestErrors(t *testing.T) {
	f := newFixture(t, "")

	cases := []struct {
		method, path, body string
		code               int
		reason             string
	}{
		{http.MethodPost, "/v1/assets", `{"hostname":"  "}`, http.StatusBadRequest, "INVALID_ASSET"},
		{http.MethodPost, "/v1/assets", `{"hostnme":"PC"}`, http.StatusBadRequest, "INVALID_BODY"},
		{http.MethodPost, "/v1/assets", `{"hostname":"PC","status":"retired"}`, http.StatusBadRequest, "INVALID_BODY"},
		{http.MethodGet, "/v1/assets/abc", "", http.StatusBadRequest, "INVALID_ID"},
		{http.MethodGet, "/v1/assets?page_size=x", "", http.StatusBadRequest, "INVALID_QUERY"},
		{http.MethodPut, "/v1/assets/99", `{"hostname":"PC"}`, http.StatusNotFound, "ASSET_NOT_FOUND"},
		{http.MethodDelete, "/v1/assets/99", "", http.StatusNotFound, "ASSET_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.reason, reason(t, rec))
		})
	}
}

func TestApiSecret(t *testing.T) {
	f := newFixture(t, "s3cret")
	f.health.SetAvailable(true)

	rec := f.do(t, http.MethodGet, "/v1/assets", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_API_KEY", reason(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/assets", "", APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_API_KEY", reason(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/assets", "", APIKeyHeader, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthFollowsAvailability(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_SERVING", decode[map[string]any](t, rec)["status"])

	f.health.SetAvailable(true)
	rec = f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SERVING", decode[map[string]any](t, rec)["status"])
}

func TestBackupAndRestore(t *testing.T) {
	f := newFixture(t, "")
	f.health.SetAvailable(true)

	rec := f.do(t, http.MethodPost, "/v1/assets", `{"hostname":"PC-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[CreateBackupReply](t, rec)
	assert.False(t, created.Skipped)
	assert.FileExists(t, created.Created)

	rec = f.do(t, http.MethodGet, "/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListBackupsReply](t, rec).Backups, 1)

	empty := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	rec = f.do(t, http.MethodPost, "/v1/backups/validate", pathBody(t, empty))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BACKUP_EMPTY", reason(t, rec))

	rec = f.do(t, http.MethodPost, "/v1/restore", pathBody(t, f.manager.Layout().DatabasePath))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SAME_FILE", reason(t, rec))

	candidate := filepath.Join(t.TempDir(), "export.db")
	s, err := store.Open(context.Background(), candidate, store.Options{})
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), &store.Record{Hostname: "LAPTOP-7"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	rec = f.do(t, http.MethodPost, "/v1/backups/validate", pathBody(t, candidate))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ValidateBackupReply](t, rec).Valid)

	rec = f.do(t, http.MethodPost, "/v1/restore", pathBody(t, candidate))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[RestoreReply](t, rec).SnapshotPath)

	rec = f.do(t, http.MethodGet, "/v1/assets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListAssetsReply](t, rec)
	require.Len(t, list.Assets, 1)
	assert.Equal(t, "LAPTOP-7", list.Assets[0].Hostname)

	rec = f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRestoreLockedByAnotherProcess(t *testing.T) {
	f := newFixture(t, "")
	f.health.SetAvailable(true)

	candidate := filepath.Join(t.TempDir(), "export.db")
	s, err := store.Open(context.Background(), candidate, store.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	other, err := filelock.TryLockShared(f.manager.Layout().DatabasePath + ".lock")
	require.NoError(t, err)
	defer other.Unlock()

	rec := f.do(t, http.MethodPost, "/v1/restore", pathBody(t, candidate))
	assert.Equal(t, StatusLocked, rec.Code, rec.Body.String())
	assert.Equal(t, "STORE_LOCKED", reason(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModelImage(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(f.manager.Layout().ModelsDir, "OptiPlex 7010.png"), []byte("img"), 0o644))

	rec := f.do(t, http.MethodGet, "/v1/models/OptiPlex%207010/image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "img", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/models/Latitude/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMAGE_NOT_FOUND", reason(t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "s3cret")
	f.do(t, http.MethodPost, "/v1/backups", "", APIKeyHeader, "s3cret")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tangra_assets_backups_total")
}

func pathBody(t *testing.T, path string) string {
	t.Helper()
	b, err := json.Marshal(PathRequest{Path: path})
	require.NoError(t, err)
	return string(b)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
