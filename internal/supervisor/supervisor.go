// Package supervisor 编排完整的引导流程
//
// supervisor 包负责：
// - 按固定顺序推进各个引导阶段（状态机）
// - 网络身份校验（任何网络 I/O 之前）
// - 种子节点配置的缓存复用或完整发现
// - 环境检查与指标更新
// - 向节点进程移交控制权
package supervisor

import (
	"context"
	"fmt"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/config"
	"github.com/dep2p/hl-bootstrap/internal/gossip"
	"github.com/dep2p/hl-bootstrap/internal/health"
	"github.com/dep2p/hl-bootstrap/internal/metrics"
	"github.com/dep2p/hl-bootstrap/internal/probe"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("supervisor")

// ============================================================================
//                          可替换的依赖接口
// ============================================================================

// peerProber 延迟探测接口
type peerProber interface {
	ProbeAll(ctx context.Context, candidates []gossip.Candidate) ([]probe.Measurement, error)
}

// envChecker 环境检查接口
type envChecker interface {
	Check() []health.Finding
}

// ============================================================================
//                              编排器
// ============================================================================

// Supervisor 引导流程编排器
type Supervisor struct {
	cfg     *config.Config
	network chain.Network

	cache     *gossip.Cache
	source    gossip.Source
	prober    peerProber
	checker   envChecker
	collector *metrics.Collector

	state State
}

// New 创建编排器
//
// collector 可以为 nil（未启用指标服务时）。
func New(cfg *config.Config, collector *metrics.Collector) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		network:   cfg.Network,
		cache:     gossip.NewCache(nil),
		prober:    probe.NewProber(cfg.GossipPort, cfg.SeedPeersMaxLatency*2, cfg.ProbeConcurrency),
		checker:   health.NewChecker(cfg.IPv6CheckSeverity),
		collector: collector,
		state:     StateInit,
	}
}

// Network 返回校验后的网络身份
//
// 只有 Prepare 成功后结果才有意义。
func (s *Supervisor) Network() chain.Network {
	return s.network
}

// State 返回当前状态
func (s *Supervisor) State() State {
	return s.state
}

func (s *Supervisor) setState(next State) {
	log.Debug("引导阶段切换", "from", s.state.String(), "to", next.String())
	s.state = next
}

// Prepare 执行移交前的全部准备工作
//
// 顺序固定：网络校验 → 配置解析 → 环境检查。任何一步的致命
// 错误都会中止流程，保证节点不会带着缺失或未校验的配置启动。
func (s *Supervisor) Prepare(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		s.setState(StateAborted)
		return err
	}
	return nil
}

func (s *Supervisor) prepare(ctx context.Context) error {
	// 1. 网络身份校验，此前不发出任何网络请求
	s.setState(StateValidatingNetwork)
	network, err := ResolveNetwork(s.cfg.Network, s.cfg.NetworkExplicit, s.cfg.VisorConfigPath)
	if err != nil {
		return err
	}
	s.network = network
	if s.source == nil {
		s.source = gossip.NewSource(network, s.cfg.IgnoredSeedPeers)
	}

	// 2. 解析种子节点配置
	s.setState(StateResolvingConfig)
	if err := s.resolveConfig(ctx); err != nil {
		return err
	}

	// 3. 环境检查
	s.setState(StateHealthChecking)
	findings := s.checker.Check()
	fatal, warning := 0, 0
	for _, f := range findings {
		if f.Severity == health.SeverityFatal {
			fatal++
		} else {
			warning++
		}
	}
	if s.collector != nil {
		s.collector.SetHealthFindings(fatal, warning)
	}
	if err := health.FatalError(findings); err != nil {
		return err
	}

	s.setState(StateLaunching)
	return nil
}

// resolveConfig 复用新鲜的缓存配置，否则执行完整的发现流程
//
// 整个检查加写入的窗口持有文件锁，共享卷上的并发重启不会
// 各自独立地决定刷新。
func (s *Supervisor) resolveConfig(ctx context.Context) error {
	path := s.cfg.OverrideGossipConfigPath

	unlock, err := s.cache.Lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	if cached, ok := s.cache.LoadIfFresh(path, s.network, s.cfg.OverrideGossipConfigMaxAge); ok {
		log.Info("复用缓存的种子节点配置",
			"path", path,
			"peers", len(cached.Peers),
			"generatedAt", cached.GeneratedAt)
		if s.collector != nil {
			s.collector.SetConfigGeneratedAt(cached.GeneratedAt)
			s.collector.SetSelectedPeers(len(cached.Peers))
		}
		return nil
	}

	return s.refreshConfig(ctx, path)
}

// refreshConfig 发现 → 探测 → 筛选 → 原子写入
func (s *Supervisor) refreshConfig(ctx context.Context, path string) error {
	candidates, err := s.source.FetchCandidates(ctx)
	if err != nil {
		return err
	}
	log.Info("候选种子节点获取完成",
		"source", s.source.Name(),
		"candidates", len(candidates))

	measurements, err := s.prober.ProbeAll(ctx, candidates)
	if err != nil {
		return err
	}
	if s.collector != nil {
		s.collector.ObserveProbes(measurements)
	}

	peers, err := probe.Select(measurements, s.cfg.SeedPeersMaxLatency, s.cfg.SeedPeersAmount)
	if err != nil {
		return err
	}

	cfg := &gossip.Config{
		Network:     s.network,
		GeneratedAt: s.cache.Now(),
		Peers:       peers,
	}
	if err := s.cache.WriteAtomic(path, cfg); err != nil {
		return fmt.Errorf("写入种子节点配置失败: %w", err)
	}

	if s.collector != nil {
		s.collector.SetConfigGeneratedAt(cfg.GeneratedAt)
		s.collector.SetSelectedPeers(len(peers))
	}
	log.Info("种子节点配置已更新", "path", path, "peers", len(peers))
	return nil
}
