package snapshot

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePath(t *testing.T) {
	p1, err := FilePath("/data/snapshots", TypeL4Snapshots)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(p1), "l4Snapshots_"))
	assert.True(t, strings.HasSuffix(p1, ".json"))

	p2, err := FilePath("/data/snapshots", TypeL4Snapshots)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestServer_SnapshotReturnsPath(t *testing.T) {
	dir := t.TempDir()

	var payload map[string]any
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer node.Close()

	srv := NewServer("127.0.0.1:0", dir, node.URL)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp, err := http.Get("http://" + srv.Addr() + "/snapshot?type=l4Snapshots&includeUsers=true")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result["path"], dir)

	// 节点 RPC 收到的请求形状
	assert.Equal(t, "fileSnapshot", payload["type"])
	assert.Equal(t, result["path"], payload["outPath"])
	request := payload["request"].(map[string]any)
	assert.Equal(t, "l4Snapshots", request["type"])
	assert.Equal(t, true, request["includeUsers"])
}

func TestServer_SnapshotStreamsContents(t *testing.T) {
	dir := t.TempDir()

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 模拟节点落盘
		var payload struct {
			OutPath string `json:"outPath"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.NoError(t, os.WriteFile(payload.OutPath, []byte(`{"height": 42}`), 0o644))
	}))
	defer node.Close()

	srv := NewServer("127.0.0.1:0", dir, node.URL)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp, err := http.Get("http://" + srv.Addr() + "/snapshot?type=referrerStates&streamContents=true")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"height": 42}`, string(body))
}

func TestServer_SnapshotInvalidType(t *testing.T) {
	srv := NewServer("127.0.0.1:0", t.TempDir(), "http://127.0.0.1:1/info")
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp, err := http.Get("http://" + srv.Addr() + "/snapshot?type=everything")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SnapshotNodeUnreachable(t *testing.T) {
	srv := NewServer("127.0.0.1:0", t.TempDir(), "http://127.0.0.1:1/info")
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp, err := http.Get("http://" + srv.Addr() + "/snapshot?type=l4Snapshots")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old_snapshot.json"), []byte(`{"ok":true}`), 0o644))

	srv := NewServer("127.0.0.1:0", dir, "http://127.0.0.1:1/info")
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp, err := http.Get("http://" + srv.Addr() + "/files/old_snapshot.json")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	// 只读：写方法被拒绝
	req, err := http.NewRequest(http.MethodDelete, "http://"+srv.Addr()+"/files/old_snapshot.json", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = delResp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, delResp.StatusCode)
}
