// Package config 提供 hl-bootstrap 配置管理层
//
// config 包负责：
// - 定义运行时配置结构
// - 提供默认值
// - 配置校验
//
// 配置在启动时一次性构建，之后不可变，以只读方式传给各组件。
package config

import (
	"net/netip"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/health"
)

// Config 运行时配置
//
// 由命令行参数与 HL_BOOTSTRAP_* 环境变量解析而来（参数优先于环境变量）。
// 构建完成后不再修改。
type Config struct {
	// Network 目标网络
	Network chain.Network

	// NetworkExplicit 网络是否由参数/环境变量显式指定
	// 未显式指定时从 hl-visor 配置推断
	NetworkExplicit bool

	// OverrideGossipConfigPath override_gossip_config.json 路径（必填）
	OverrideGossipConfigPath string

	// OverrideGossipConfigMaxAge 缓存配置的最大年龄，超过则重新发现种子节点
	OverrideGossipConfigMaxAge time.Duration

	// SeedPeersAmount 写入配置的种子节点数量上限
	SeedPeersAmount int

	// SeedPeersMaxLatency 种子节点延迟上限，用于避免跨大洲连接
	SeedPeersMaxLatency time.Duration

	// IgnoredSeedPeers 已知异常的种子节点 IP，发现阶段直接跳过
	IgnoredSeedPeers []netip.Addr

	// GossipPort 种子节点 gossip 端口
	GossipPort int

	// ProbeConcurrency 延迟探测的最大并发数
	ProbeConcurrency int

	// MetricsListenAddress 指标服务监听地址，为空则不启动
	MetricsListenAddress string

	// SnapshotListenAddress 快照服务监听地址，为空则不启动
	SnapshotListenAddress string

	// SnapshotDirectory 快照文件目录
	SnapshotDirectory string

	// NodeInfoURL 节点本地 RPC 地址，快照服务通过它触发落盘
	NodeInfoURL string

	// VisorConfigPath visor.json 路径，用于未显式指定时推断网络
	VisorConfigPath string

	// VisorBinaryDirectory hl-visor 二进制目录，非空时启用更新检查
	VisorBinaryDirectory string

	// DataDirectory 节点数据目录（清理任务的工作目录）
	DataDirectory string

	// PruneInterval 数据清理周期，0 表示不启用
	PruneInterval time.Duration

	// PruneOlderThan 清理早于该时长的数据文件
	PruneOlderThan time.Duration

	// IPv6CheckSeverity IPv6 检查结果的严重级别
	IPv6CheckSeverity health.Severity

	// StrictAuxBind 辅助服务绑定失败时是否视为致命错误
	StrictAuxBind bool

	// AuxServersLinger 子进程退出后辅助服务是否继续运行
	AuxServersLinger bool

	// NodeBinary 启动完成后要移交控制权的节点可执行文件
	// 为空表示只做准备工作，不启动节点
	NodeBinary string

	// NodeArgs 透传给节点可执行文件的参数
	NodeArgs []string
}

// New 创建默认配置
func New() *Config {
	return &Config{
		Network:                    chain.Mainnet,
		OverrideGossipConfigMaxAge: DefaultConfigMaxAge,
		SeedPeersAmount:            DefaultSeedPeersAmount,
		SeedPeersMaxLatency:        DefaultSeedPeersMaxLatency,
		GossipPort:                 DefaultGossipPort,
		ProbeConcurrency:           DefaultProbeConcurrency,
		NodeInfoURL:                DefaultNodeInfoURL,
		PruneOlderThan:             DefaultPruneOlderThan,
		IPv6CheckSeverity:          health.SeverityFatal,
	}
}

// AuxServersEnabled 是否配置了任一辅助服务
func (c *Config) AuxServersEnabled() bool {
	return c.MetricsListenAddress != "" || c.SnapshotListenAddress != ""
}

// PruneEnabled 是否启用数据清理任务
func (c *Config) PruneEnabled() bool {
	return c.PruneInterval > 0
}
