package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ippclub/rustdist/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(version, date string) string {
	return fmt.Sprintf(`date = %q
[pkg.rustc]
version = "%s (feedbeef %s)"
[pkg.rustc.target.x86_64-unknown-linux-gnu]
xz_url = "https://example.org/%s/rustc.tar.xz"
xz_hash = "h-%s"
`, date, version, date, version, version)
}

func newDistServer(t *testing.T) *httptest.Server {
	t.Helper()
	docs := map[string]string{
		"/dist/2020-01-30/channel-rust-1.41.0.toml":  manifest("1.41.0", "2020-01-30"),
		"/dist/2020-03-12/channel-rust-1.42.0.toml":  manifest("1.42.0", "2020-03-12"),
		"/dist/2020-03-12/channel-rust-stable.toml":  manifest("1.42.0", "2020-03-12"),
		"/dist/2020-03-13/channel-rust-nightly.toml": manifest("1.44.0-nightly", "2020-03-13"),
	}
	list := strings.Join([]string{
		"dist/2020-01-30/channel-rust-1.41.0.toml",
		"dist/2020-03-12/channel-rust-1.42.0.toml",
		"dist/2020-03-12/channel-rust-stable.toml",
		"dist/2020-03-13/channel-rust-nightly.toml",
	}, "\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifests.txt" {
			w.Write([]byte(list))
			return
		}
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncCommand(t *testing.T) {
	for _, k := range []string{"RUSTDIST_DATABASE", "RUSTDIST_WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	srv := newDistServer(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "catalog.sqlite3")
	require.NoError(t, os.WriteFile(cfgPath, []byte("dist:\n  base_url: "+srv.URL+"\nlog:\n  level: error\n"), 0644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sync", "--config", cfgPath, "--database", dbPath, "--workers", "2", "--number", "1"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "planned:  1")
	assert.Contains(t, out.String(), "stable:   1.42.0")
	assert.Contains(t, out.String(), "nightly:  1.44.0-nightly")

	st, err := store.NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	defer st.Close()

	releases, err := st.AllVersions(context.Background())
	require.NoError(t, err)
	var versions []string
	for _, r := range releases {
		versions = append(versions, r.Version)
	}
	assert.Equal(t, []string{"1.44.0-nightly", "1.42.0"}, versions, "--number keeps the newest manifests")
}

func TestSyncCommand_ListFailureExitsWithError(t *testing.T) {
	for _, k := range []string{"RUSTDIST_DATABASE", "RUSTDIST_WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("dist:\n  base_url: "+srv.URL+"\nlog:\n  level: error\n"), 0644))

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"sync", "--config", cfgPath, "--database", filepath.Join(dir, "db.sqlite3")})
	assert.Error(t, cmd.Execute())
}
