// Package chain 定义 Hyperliquid 网络标识
//
// 网络标识在进程生命周期内不可变，决定使用哪个种子节点来源
// 以及 hl-visor 二进制的下载地址。
package chain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Network Hyperliquid 网络
type Network int

const (
	// Mainnet 主网
	Mainnet Network = iota
	// Testnet 测试网
	Testnet
)

// Parse 解析网络名称（大小写不敏感）
func Parse(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	default:
		return Mainnet, fmt.Errorf("unsupported chain '%s'", s)
	}
}

// String 返回规范化的网络名称
func (n Network) String() string {
	switch n {
	case Testnet:
		return "Testnet"
	default:
		return "Mainnet"
	}
}

// MarshalJSON 序列化为 "Mainnet"/"Testnet"
func (n Network) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON 从 "Mainnet"/"Testnet" 反序列化
func (n *Network) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*n = parsed
	return nil
}
