// Package prune 提供数据目录的定期清理任务
//
// 只在 hl-bootstrap 以父进程身份托管子进程时启动：exec 移交后
// 没有人再运行它。
package prune

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("prune")

// Worker 数据清理任务
type Worker struct {
	dir       string
	interval  time.Duration
	olderThan time.Duration
	clk       clock.Clock
}

// NewWorker 创建清理任务
//
// clk 为 nil 时使用真实时钟。
func NewWorker(dir string, interval, olderThan time.Duration, clk clock.Clock) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	return &Worker{
		dir:       dir,
		interval:  interval,
		olderThan: olderThan,
		clk:       clk,
	}
}

// Run 周期性清理，直到上下文取消
func (w *Worker) Run(ctx context.Context) {
	log.Info("数据清理任务已启动",
		"dir", w.dir,
		"interval", w.interval,
		"olderThan", w.olderThan)

	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("数据清理任务退出")
			return
		case <-ticker.C:
			if err := w.PruneOnce(); err != nil {
				log.Error("数据清理失败", "err", err)
			}
		}
	}
}

// PruneOnce 执行一轮清理
//
// 删除数据目录下修改时间早于阈值的普通文件；目录结构保留。
func (w *Worker) PruneOnce() error {
	cutoff := w.clk.Now().Add(-w.olderThan)
	removed := 0

	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 单个条目失败不终止整轮
			log.Warn("访问数据文件失败", "path", path, "err", err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			log.Warn("删除数据文件失败", "path", path, "err", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		log.Info("数据清理完成", "removed", removed, "cutoff", cutoff)
	}
	return nil
}
