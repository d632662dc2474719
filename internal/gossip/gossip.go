// Package gossip 提供种子节点发现与 override_gossip_config.json 的读写
//
// 职责：
// - 定义 override_gossip_config.json 的数据结构
// - 按网络选择种子节点来源（主网 API / 测试网第三方端点）
// - 带 TTL 的配置缓存与崩溃安全的原子替换
package gossip

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/chain"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrPeerFetch 种子节点来源在重试耗尽后仍然失败
	ErrPeerFetch = errors.New("peer discovery failed")

	// ErrEmptyPeerSet 来源成功响应但没有返回任何种子节点
	ErrEmptyPeerSet = errors.New("no seed peers returned")

	// ErrConfigIO 配置文件读写失败（文件不存在除外）
	ErrConfigIO = errors.New("gossip config io failed")
)

// ============================================================================
//                              数据结构
// ============================================================================

// Peer 配置文件中的单个种子节点
type Peer struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Addr 返回 host:port 形式的地址
func (p Peer) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Config override_gossip_config.json 的内容
//
// 这是唯一跨进程持久化的产物。不变式：
// - Peers 按写入时测得的延迟升序排列
// - 每个节点的延迟都不超过写入时的阈值
// - Network 与当前网络不一致时整个文件视为过期
type Config struct {
	Network     chain.Network `json:"network"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Peers       []Peer        `json:"peers"`
}

// Candidate 待探测的候选种子节点
//
// 仅在单次发现流程内存活，探测筛选后即丢弃。
type Candidate struct {
	// Addr 候选节点 IP
	Addr netip.Addr

	// Origin 产生该候选的来源标签
	Origin string
}
