package visor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/hl-bootstrap/internal/chain"
)

func TestConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visor.json")

	require.NoError(t, WriteConfig(path, chain.Testnet))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, chain.Testnet, cfg.Chain)
}

func TestReadConfig_Missing(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "visor.json"))
	assert.Error(t, err)
}

func TestReadConfig_UpstreamShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chain": "Mainnet"}`), 0o644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, chain.Mainnet, cfg.Chain)
}

func newTestUpdater(t *testing.T, dir string, srv *httptest.Server) *Updater {
	t.Helper()
	u := NewUpdater(dir)
	u.client = srv.Client()
	u.client.Timeout = 5 * time.Second
	u.verify = func(_, _ string) error { return nil }
	return u
}

func TestUpdater_DownloadsAndInstalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		if r.Method == http.MethodHead {
			return
		}
		if filepath.Ext(r.URL.Path) == ".asc" {
			_, _ = w.Write([]byte("signature"))
			return
		}
		_, _ = w.Write([]byte("#!/bin/true"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := newTestUpdater(t, dir, srv)

	err := u.ensureLatestFrom(context.Background(), srv.URL+"/Mainnet/hl-visor")
	require.NoError(t, err)

	// 二进制就位且可执行
	info, err := os.Stat(filepath.Join(dir, "hl-visor"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// etag 已记录
	etag, err := os.ReadFile(filepath.Join(dir, ".hl-visor.etag"))
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, string(etag))
}

func TestUpdater_SkipsWhenETagMatches(t *testing.T) {
	var downloads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Method != http.MethodHead {
			downloads++
			_, _ = w.Write([]byte("binary"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hl-visor.etag"), []byte(`"v1"`), 0o644))

	u := newTestUpdater(t, dir, srv)
	require.NoError(t, u.ensureLatestFrom(context.Background(), srv.URL+"/Mainnet/hl-visor"))

	assert.Zero(t, downloads)
}

func TestUpdater_VerifyFailureAbortsInstall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v3"`)
		if r.Method != http.MethodHead {
			_, _ = w.Write([]byte("payload"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := newTestUpdater(t, dir, srv)
	u.verify = func(_, _ string) error { return assert.AnError }

	err := u.ensureLatestFrom(context.Background(), srv.URL+"/Mainnet/hl-visor")
	require.Error(t, err)

	// 验签失败不得安装二进制
	_, statErr := os.Stat(filepath.Join(dir, "hl-visor"))
	assert.True(t, os.IsNotExist(statErr))
}
