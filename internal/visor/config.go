// Package visor 提供 hl-visor 配置读写与二进制更新
package visor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("visor")

// DefaultConfigPath visor.json 默认路径
const DefaultConfigPath = "./visor.json"

// Config visor.json 的内容
type Config struct {
	Chain chain.Network `json:"chain"`
}

// ReadConfig 读取 visor.json
//
// path 为空时使用默认路径。部署环境通过这个文件声明节点属于
// 哪个网络，未显式指定 --network 时以它为准。
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("读取 hl-visor 配置失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("解析 hl-visor 配置失败: %w", err)
	}

	return cfg, nil
}

// WriteConfig 原子写入 visor.json
func WriteConfig(path string, network chain.Network) error {
	if path == "" {
		path = DefaultConfigPath
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".visor-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := json.NewEncoder(tmp).Encode(Config{Chain: network}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("序列化 hl-visor 配置失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("写入 hl-visor 配置失败: %w", err)
	}
	tmpPath = ""

	log.Debug("hl-visor 配置写入完成", "path", path, "chain", network.String())
	return nil
}
