package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ippclub/rustdist/internal/config"
	"github.com/ippclub/rustdist/internal/model"
	"github.com/ippclub/rustdist/internal/service"
	"github.com/ippclub/rustdist/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memSource struct {
	list []string
	docs map[string]string
}

func (m *memSource) ManifestList(context.Context) ([]string, error) {
	return m.list, nil
}

func (m *memSource) Fetch(_ context.Context, id string) ([]byte, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("no document %s", id)
	}
	return []byte(doc), nil
}

func doc(version, date string) string {
	return fmt.Sprintf(`date = %q
[pkg.rustc]
version = "%s (0123abcd %s)"
git_commit_hash = "0123abcd"
[pkg.rustc.target.x86_64-unknown-linux-gnu]
xz_url = "https://example.org/%s/rustc.tar.xz"
xz_hash = "r-%s"
[pkg.rust-std]
version = "%s"
[pkg.rust-std.target.wasm32-unknown-unknown]
url = "https://example.org/%s/std-wasm.tar.gz"
hash = "s-%s"
[[artifacts.installer-msi.target.x86_64-pc-windows-msvc]]
url = "https://example.org/%s/rust.msi"
hash-sha256 = "m-%s"
[profiles]
minimal = ["rustc", "rust-std"]
[renames.rls]
to = "rls-preview"
`, date, version, date, version, version, version, version, version, version, version)
}

func newTestAPI(t *testing.T) (*API, http.Handler, *service.SyncService) {
	t.Helper()
	return newTestAPIContext(t, context.Background())
}

func newTestAPIContext(t *testing.T, ctx context.Context) (*API, http.Handler, *service.SyncService) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src := &memSource{
		list: []string{
			"dist/2020-01-30/channel-rust-1.41.0.toml",
			"dist/2020-01-30/channel-rust-stable.toml",
			"dist/2020-02-01/channel-rust-nightly.toml",
		},
		docs: map[string]string{
			"dist/2020-01-30/channel-rust-1.41.0.toml":  doc("1.41.0", "2020-01-30"),
			"dist/2020-01-30/channel-rust-stable.toml":  doc("1.41.0", "2020-01-30"),
			"dist/2020-02-01/channel-rust-nightly.toml": doc("1.43.0-nightly", "2020-02-01"),
		},
	}
	svc := service.NewSyncService(st, src, service.Options{}, nil)

	cfg := config.Default()
	cfg.RateLimit.RPS = 0
	api := NewAPI(ctx, cfg, zap.NewNop(), st, svc)
	t.Cleanup(api.Close)

	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return api, r, svc
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_CacheRefreshedAfterSync(t *testing.T) {
	_, h, svc := newTestAPI(t)

	rec := get(t, h, "/api/v1/versions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(t, h, "/api/v1/sync-status")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	rec = get(t, h, "/api/v1/versions")
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []model.ReleaseSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, "1.43.0-nightly", versions[0].Version)
	assert.True(t, versions[0].LatestNightly)
	assert.Equal(t, "1.41.0", versions[1].Version)
	assert.True(t, versions[1].LatestStable)

	rec = get(t, h, "/api/v1/channels")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"latestStable":true`)

	rec = get(t, h, "/api/v1/sync-status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status model.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "1.41.0", status.Stable)
	assert.Equal(t, "1.43.0-nightly", status.Nightly)
	assert.Equal(t, 2, status.Inserted)
}

func TestAPI_GetVersion(t *testing.T) {
	_, h, svc := newTestAPI(t)
	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	for _, path := range []string{"/api/v1/versions/1.41.0", "/api/v1/versions/stable", "/api/v1/versions/latest"} {
		rec := get(t, h, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var info model.ReleaseInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "1.41.0", info.Version)
		assert.Equal(t, "2020-01-30", info.ReleaseDate)
		assert.Equal(t, "0123abcd", info.GitCommit)
		require.Len(t, info.Components, 2)
		assert.Equal(t, "rust-std", info.Components[0].Name)
		assert.True(t, info.Components[0].ProfileMinimal)
		require.Len(t, info.Artefacts, 1)
		assert.Equal(t, "installer-msi", info.Artefacts[0].Kind)
		assert.Equal(t, map[string]string{"rls": "rls-preview"}, info.Renames)
	}

	rec := get(t, h, "/api/v1/versions/nightly")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.43.0-nightly"`)

	rec = get(t, h, "/api/v1/versions/beta")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no beta pointer published")

	rec = get(t, h, "/api/v1/versions/0.9.0")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GetComponent(t *testing.T) {
	_, h, svc := newTestAPI(t)
	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	rec := get(t, h, "/api/v1/versions/1.41.0/components/rustc")
	require.Equal(t, http.StatusOK, rec.Code)

	var info model.ComponentInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "rustc", info.Name)
	require.Len(t, info.Targets, 1)
	assert.Equal(t, "https://example.org/1.41.0/rustc.tar.xz", info.Targets[0].URL)

	rec = get(t, h, "/api/v1/versions/1.41.0/components/miri")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AdminSyncIsLocalOnly(t *testing.T) {
	api, h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		_, err := api.store.LatestSyncRun(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAPI_AdminSyncStopsWithServeContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api, h, _ := newTestAPIContext(t, ctx)
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/admin/sync", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Close waits for the triggered run, which gives up before writing
	api.Close()
	_, err := api.store.LatestSyncRun(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()

	h := rl.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "buckets are per client")
}
