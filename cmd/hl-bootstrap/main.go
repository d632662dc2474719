// Package main 提供 hl-bootstrap 命令行入口
//
// 用法：hl-bootstrap [flags] -- <节点可执行文件> [节点参数...]
//
// 引导流程准备好种子节点配置并通过环境检查后，把控制权移交给
// `--` 之后指定的节点可执行文件。不指定节点时只做准备工作。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/config"
	"github.com/dep2p/hl-bootstrap/internal/gossip"
	"github.com/dep2p/hl-bootstrap/internal/health"
	"github.com/dep2p/hl-bootstrap/internal/metrics"
	"github.com/dep2p/hl-bootstrap/internal/probe"
	"github.com/dep2p/hl-bootstrap/internal/prune"
	"github.com/dep2p/hl-bootstrap/internal/snapshot"
	"github.com/dep2p/hl-bootstrap/internal/supervisor"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
	"github.com/dep2p/hl-bootstrap/internal/visor"
)

var log = logger.Logger("cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 每个参数都有对应的 HL_BOOTSTRAP_* 环境变量（见 envKeys）。
// 优先级：命令行参数 > 环境变量 > 默认值。
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 核心参数
	// ─────────────────────────────────────────────────────────────────────
	gossipConfigPath   = flag.String("override-gossip-config-path", "", "override_gossip_config.json 路径（必填）")
	network            = flag.String("network", chain.Mainnet.String(), "目标网络 (Mainnet/Testnet)")
	gossipConfigMaxAge = flag.Duration("override-gossip-config-max-age", config.DefaultConfigMaxAge, "缓存配置的最大年龄")
	seedPeersAmount    = flag.Int("seed-peers-amount", config.DefaultSeedPeersAmount, "写入配置的种子节点数量上限")
	seedPeersMaxLat    = flag.Duration("seed-peers-max-latency", config.DefaultSeedPeersMaxLatency, "种子节点延迟上限")
	seedPeersIgnored   = flag.String("seed-peers-ignored", "", "跳过的种子节点 IP（逗号分隔）")
	gossipPort         = flag.Int("gossip-port", config.DefaultGossipPort, "种子节点 gossip 端口")
	probeConcurrency   = flag.Int("probe-concurrency", config.DefaultProbeConcurrency, "延迟探测最大并发数")

	// ─────────────────────────────────────────────────────────────────────
	// 辅助服务
	// ─────────────────────────────────────────────────────────────────────
	metricsListenAddr  = flag.String("metrics-listen-address", "", "指标服务监听地址（为空不启动）")
	snapshotListenAddr = flag.String("snapshot-server-listen-address", "", "快照服务监听地址（为空不启动）")
	snapshotDirectory  = flag.String("snapshot-directory", "", "快照文件目录")
	nodeInfoURL        = flag.String("node-info-url", config.DefaultNodeInfoURL, "节点本地 RPC 地址")
	strictAuxBind      = flag.Bool("strict-aux-bind", false, "辅助服务绑定失败时视为致命错误")
	auxServersLinger   = flag.Bool("aux-servers-linger", false, "节点退出后辅助服务继续运行")

	// ─────────────────────────────────────────────────────────────────────
	// hl-visor 与数据目录
	// ─────────────────────────────────────────────────────────────────────
	visorConfigPath = flag.String("visor-config-path", "", "visor.json 路径（默认 ./visor.json）")
	visorBinaryDir  = flag.String("visor-binary-directory", "", "hl-visor 二进制目录（非空时启用更新检查）")
	dataDirectory   = flag.String("data-directory", "", "节点数据目录")
	pruneInterval   = flag.Duration("prune-interval", 0, "数据清理周期（0 不启用）")
	pruneOlderThan  = flag.Duration("prune-older-than", config.DefaultPruneOlderThan, "清理早于该时长的数据文件")

	// ─────────────────────────────────────────────────────────────────────
	// 环境检查
	// ─────────────────────────────────────────────────────────────────────
	ipv6Severity = flag.String("ipv6-check-severity", health.SeverityFatal.String(), "IPv6 检查严重级别 (Fatal/Warning)")
)

// envKeys 参数名到环境变量名的映射
//
// 命令行未指定的参数从对应环境变量取值。
var envKeys = map[string]string{
	"network":                        "HL_BOOTSTRAP_NETWORK",
	"override-gossip-config-max-age": "HL_BOOTSTRAP_OVERRIDE_GOSSIP_CONFIG_MAX_AGE",
	"seed-peers-amount":              "HL_BOOTSTRAP_SEED_PEERS_AMOUNT",
	"seed-peers-max-latency":         "HL_BOOTSTRAP_SEED_PEERS_MAX_LATENCY",
	"seed-peers-ignored":             "HL_BOOTSTRAP_SEED_PEERS_IGNORED",
	"gossip-port":                    "HL_BOOTSTRAP_GOSSIP_PORT",
	"probe-concurrency":              "HL_BOOTSTRAP_PROBE_CONCURRENCY",
	"metrics-listen-address":         "HL_BOOTSTRAP_METRICS_LISTEN_ADDRESS",
	"snapshot-server-listen-address": "HL_BOOTSTRAP_SNAPSHOT_SERVER_LISTEN_ADDRESS",
	"snapshot-directory":             "HL_BOOTSTRAP_SNAPSHOT_DIRECTORY",
	"node-info-url":                  "HL_BOOTSTRAP_NODE_INFO_URL",
	"visor-config-path":              "HL_BOOTSTRAP_VISOR_CONFIG_PATH",
	"visor-binary-directory":         "HL_BOOTSTRAP_VISOR_BINARY_DIRECTORY",
	"data-directory":                 "HL_BOOTSTRAP_DATA_DIRECTORY",
	"prune-interval":                 "HL_BOOTSTRAP_PRUNE_INTERVAL",
	"prune-older-than":               "HL_BOOTSTRAP_PRUNE_OLDER_THAN",
	"ipv6-check-severity":            "HL_BOOTSTRAP_IPV6_CHECK_SEVERITY",
	"strict-aux-bind":                "HL_BOOTSTRAP_STRICT_AUX_BIND",
	"aux-servers-linger":             "HL_BOOTSTRAP_AUX_SERVERS_LINGER",
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误[%s]: %v\n", diagnose(err), err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run() (int, error) {
	nodeBinary, nodeArgs, err := parseArgs(os.Args[1:])
	if err != nil {
		return 1, err
	}

	cfg, err := buildConfig(nodeBinary, nodeArgs)
	if err != nil {
		return 1, err
	}

	// 信号触发的取消：发现/探测阶段收到 SIGINT/SIGTERM 时立即
	// 放弃在途请求，不会留下半写的配置
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.MetricsListenAddress != "" {
		collector = metrics.NewCollector()
	}

	sup := supervisor.New(cfg, collector)
	if err := sup.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			return 130, fmt.Errorf("收到退出信号，引导中止: %w", err)
		}
		return 1, err
	}

	// 未显式指定网络且 visor.json 不存在时落盘，后续重启可以直接推断
	if cfg.NetworkExplicit {
		if _, err := visor.ReadConfig(cfg.VisorConfigPath); err != nil {
			if err := visor.WriteConfig(cfg.VisorConfigPath, sup.Network()); err != nil {
				log.Warn("写入 hl-visor 配置失败", "err", err)
			}
		}
	}

	if cfg.VisorBinaryDirectory != "" {
		if err := visor.NewUpdater(cfg.VisorBinaryDirectory).EnsureLatest(ctx, sup.Network()); err != nil {
			return 1, err
		}
	}

	stopAux, err := startAuxServers(cfg, collector)
	if err != nil {
		return 1, err
	}
	defer stopAux()

	if cfg.NodeBinary == "" {
		log.Info("引导准备完成，未指定节点可执行文件")
		fmt.Println("引导准备完成")
		return 0, nil
	}

	if cfg.PruneEnabled() {
		worker := prune.NewWorker(cfg.DataDirectory, cfg.PruneInterval, cfg.PruneOlderThan, nil)
		go worker.Run(ctx)
	}

	code, err := sup.Launch()
	if err != nil {
		return code, err
	}

	if cfg.AuxServersLinger && cfg.AuxServersEnabled() {
		log.Info("节点已退出，辅助服务继续运行", "code", code)
		<-ctx.Done()
	}
	return code, nil
}

// parseArgs 解析参数，`--` 之后的部分透传给节点进程
func parseArgs(args []string) (string, []string, error) {
	ownArgs := args
	var nodeBinary string
	var nodeArgs []string

	for i, a := range args {
		if a == "--" {
			ownArgs = args[:i]
			rest := args[i+1:]
			if len(rest) == 0 {
				return "", nil, errors.New("`--` 之后缺少节点可执行文件")
			}
			nodeBinary = rest[0]
			nodeArgs = rest[1:]
			break
		}
	}

	if err := flag.CommandLine.Parse(ownArgs); err != nil {
		return "", nil, err
	}
	return nodeBinary, nodeArgs, nil
}

// buildConfig 构建运行时配置
//
// 命令行未指定的参数先用环境变量覆盖，再做整体校验。
func buildConfig(nodeBinary string, nodeArgs []string) (*config.Config, error) {
	if err := applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg := config.New()
	cfg.OverrideGossipConfigPath = *gossipConfigPath
	cfg.OverrideGossipConfigMaxAge = *gossipConfigMaxAge
	cfg.SeedPeersAmount = *seedPeersAmount
	cfg.SeedPeersMaxLatency = *seedPeersMaxLat
	cfg.GossipPort = *gossipPort
	cfg.ProbeConcurrency = *probeConcurrency
	cfg.MetricsListenAddress = *metricsListenAddr
	cfg.SnapshotListenAddress = *snapshotListenAddr
	cfg.SnapshotDirectory = *snapshotDirectory
	cfg.NodeInfoURL = *nodeInfoURL
	cfg.VisorConfigPath = *visorConfigPath
	cfg.VisorBinaryDirectory = *visorBinaryDir
	cfg.DataDirectory = *dataDirectory
	cfg.PruneInterval = *pruneInterval
	cfg.PruneOlderThan = *pruneOlderThan
	cfg.StrictAuxBind = *strictAuxBind
	cfg.AuxServersLinger = *auxServersLinger
	cfg.NodeBinary = nodeBinary
	cfg.NodeArgs = nodeArgs

	cfg.NetworkExplicit = flagProvided("network")
	if cfg.NetworkExplicit {
		n, err := chain.Parse(*network)
		if err != nil {
			return nil, fmt.Errorf("配置错误 [network]: %w", err)
		}
		cfg.Network = n
	}

	if *seedPeersIgnored != "" {
		for _, s := range strings.Split(*seedPeersIgnored, ",") {
			addr, err := netip.ParseAddr(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("配置错误 [seed-peers-ignored]: %w", err)
			}
			cfg.IgnoredSeedPeers = append(cfg.IgnoredSeedPeers, addr)
		}
	}

	sev, err := health.ParseSeverity(*ipv6Severity)
	if err != nil {
		return nil, fmt.Errorf("配置错误 [ipv6-check-severity]: %w", err)
	}
	cfg.IPv6CheckSeverity = sev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 把环境变量写入尚未显式指定的参数
func applyEnvOverrides() error {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	for name, envKey := range envKeys {
		if set[name] {
			continue
		}
		value, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("配置错误 [%s]: %s=%q: %w", name, envKey, value, err)
		}
		set[name] = true
		if name == "network" {
			networkFromEnv = true
		}
	}
	return nil
}

// networkFromEnv 网络是否来自环境变量
var networkFromEnv bool

// flagProvided 参数是否被显式指定（命令行或环境变量）
func flagProvided(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found || (name == "network" && networkFromEnv)
}

// startAuxServers 启动指标与快照服务
//
// 绑定失败默认只告警不中止（StrictAuxBind 打开时例外）：
// 辅助服务挂了不应该拦住节点启动。
func startAuxServers(cfg *config.Config, collector *metrics.Collector) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}

	if cfg.MetricsListenAddress != "" {
		srv := metrics.NewServer(cfg.MetricsListenAddress, collector)
		if err := srv.Start(); err != nil {
			if cfg.StrictAuxBind {
				stopAll()
				return nil, fmt.Errorf("指标服务启动失败: %w", err)
			}
			log.Warn("指标服务启动失败", "addr", cfg.MetricsListenAddress, "err", err)
		} else {
			stops = append(stops, func() { _ = srv.Stop() })
		}
	}

	if cfg.SnapshotListenAddress != "" {
		srv := snapshot.NewServer(cfg.SnapshotListenAddress, cfg.SnapshotDirectory, cfg.NodeInfoURL)
		if err := srv.Start(); err != nil {
			if cfg.StrictAuxBind {
				stopAll()
				return nil, fmt.Errorf("快照服务启动失败: %w", err)
			}
			log.Warn("快照服务启动失败", "addr", cfg.SnapshotListenAddress, "err", err)
		} else {
			stops = append(stops, func() { _ = srv.Stop() })
		}
	}

	return stopAll, nil
}

// diagnose 把致命错误映射为分类标签
func diagnose(err error) string {
	var verrs config.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return "配置"
	case errors.Is(err, supervisor.ErrNetworkMismatch):
		return "网络校验"
	case errors.Is(err, gossip.ErrPeerFetch), errors.Is(err, gossip.ErrEmptyPeerSet):
		return "节点发现"
	case errors.Is(err, probe.ErrNoReliablePeers), errors.Is(err, probe.ErrNoCandidates):
		return "节点筛选"
	case errors.Is(err, gossip.ErrConfigIO):
		return "配置读写"
	case errors.Is(err, health.ErrHealthCheck):
		return "环境检查"
	case errors.Is(err, supervisor.ErrLaunch):
		return "节点启动"
	default:
		return "运行"
	}
}
