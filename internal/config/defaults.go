package config

import "time"

// ============================================================================
//                              默认值
// ============================================================================

const (
	// DefaultConfigMaxAge 默认缓存配置最大年龄
	DefaultConfigMaxAge = 15 * time.Minute

	// DefaultSeedPeersAmount 默认种子节点数量
	DefaultSeedPeersAmount = 5

	// DefaultSeedPeersMaxLatency 默认延迟上限
	// 80ms 可以阻止跨大洲连接（大部分节点在东京）
	DefaultSeedPeersMaxLatency = 80 * time.Millisecond

	// DefaultGossipPort 默认 gossip 端口
	// NOTE: 2025-07 时为 4001，将来可能变化
	DefaultGossipPort = 4001

	// DefaultProbeConcurrency 默认探测并发数
	DefaultProbeConcurrency = 64

	// DefaultNodeInfoURL 节点本地 RPC 默认地址
	DefaultNodeInfoURL = "http://127.0.0.1:3001/info"

	// DefaultPruneOlderThan 默认清理阈值
	DefaultPruneOlderThan = 4 * time.Hour
)
