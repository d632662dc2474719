package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sys/unix"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("gossip.cache")

// Cache override_gossip_config.json 的带 TTL 缓存
//
// 频繁重启时复用近期的配置，避免重复的网络探测与节点抖动；
// 写入使用同目录临时文件 + rename，崩溃不会留下半写状态。
type Cache struct {
	clk clock.Clock
}

// NewCache 创建缓存
//
// clk 为 nil 时使用真实时钟。测试注入 clock.Mock。
func NewCache(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache{clk: clk}
}

// Now 返回缓存所用时钟的当前时间
//
// generatedAt 与新鲜度判断必须来自同一时钟。
func (c *Cache) Now() time.Time {
	return c.clk.Now()
}

// LoadIfFresh 读取缓存配置
//
// 只有同时满足以下条件才返回配置：
// - 文件存在且能解析
// - network 字段与当前网络一致
// - 年龄不超过 maxAge
//
// 其他情况一律返回 (nil, false)，由调用方执行完整的发现流程。
// 解析失败或网络不匹配不报错：旧文件会被下一次写入原子替换。
func (c *Cache) LoadIfFresh(path string, network chain.Network, maxAge time.Duration) (*Config, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("读取缓存配置失败", "path", path, "err", err)
		}
		return nil, false
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn("缓存配置解析失败，视为过期", "path", path, "err", err)
		return nil, false
	}

	if cfg.Network != network {
		log.Warn("缓存配置属于其他网络，视为过期",
			"path", path,
			"cached", cfg.Network.String(),
			"current", network.String())
		return nil, false
	}

	age := c.clk.Now().Sub(cfg.GeneratedAt)
	if age < 0 || age > maxAge {
		log.Debug("缓存配置已过期",
			"path", path,
			"age", age,
			"maxAge", maxAge)
		return nil, false
	}

	log.Debug("缓存配置仍然新鲜，不更新种子节点",
		"path", path,
		"age", age,
		"peers", len(cfg.Peers))
	return &cfg, true
}

// WriteAtomic 原子写入配置
//
// 同目录临时文件 + rename，保证观察者永远看不到半写的文件，
// 替换完成前旧文件保持完整。写入失败重试一次后再报 ErrConfigIO。
func (c *Cache) WriteAtomic(path string, cfg *Config) error {
	err := c.writeOnce(path, cfg)
	if err == nil {
		return nil
	}

	log.Warn("写入配置失败，重试一次", "path", path, "err", err)
	if err = c.writeOnce(path, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}

func (c *Cache) writeOnce(path string, cfg *Config) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".override_gossip_config-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	// 任何失败路径都要清掉临时文件
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("刷盘失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	tmpPath = ""

	log.Info("配置写入完成", "path", path, "peers", len(cfg.Peers))
	return nil
}

// Lock 获取配置文件的咨询锁
//
// 共享卷上可能有多个 bootstrap 实例同时重启，rename 只能防止
// 读到撕裂数据，防不住两边各自决定刷新。flock 将「检查-写入」
// 序列化。返回的函数释放锁。
func (c *Cache) Lock(path string) (func(), error) {
	lockPath := path + ".lock"

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开锁文件失败: %v", ErrConfigIO, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: 获取锁失败: %v", ErrConfigIO, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
