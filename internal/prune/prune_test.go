package prune

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAged 写入文件并回拨修改时间
func writeAged(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestPruneOnce(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Now())

	// 1. 准备新旧混合的文件
	writeAged(t, filepath.Join(dir, "old.rmp"), 6*time.Hour, mock.Now())
	writeAged(t, filepath.Join(dir, "fresh.rmp"), 30*time.Minute, mock.Now())

	sub := filepath.Join(dir, "periodic")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeAged(t, filepath.Join(sub, "nested_old.rmp"), 8*time.Hour, mock.Now())

	// 2. 执行一轮清理
	w := NewWorker(dir, time.Hour, 4*time.Hour, mock)
	require.NoError(t, w.PruneOnce())

	// 3. 旧文件被删，新文件和目录保留
	assert.NoFileExists(t, filepath.Join(dir, "old.rmp"))
	assert.NoFileExists(t, filepath.Join(sub, "nested_old.rmp"))
	assert.FileExists(t, filepath.Join(dir, "fresh.rmp"))
	assert.DirExists(t, sub)
}

func TestPruneOnceEmptyDir(t *testing.T) {
	w := NewWorker(t.TempDir(), time.Hour, time.Hour, clock.NewMock())
	require.NoError(t, w.PruneOnce())
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewWorker(t.TempDir(), time.Hour, time.Hour, clock.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("清理任务未随上下文取消退出")
	}
}
