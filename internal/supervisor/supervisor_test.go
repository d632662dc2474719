package supervisor

import (
	"context"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/config"
	"github.com/dep2p/hl-bootstrap/internal/gossip"
	"github.com/dep2p/hl-bootstrap/internal/health"
	"github.com/dep2p/hl-bootstrap/internal/probe"
	"github.com/dep2p/hl-bootstrap/internal/visor"
)

// ============================================================================
//                              测试替身
// ============================================================================

type stubSource struct {
	calls      int
	candidates []gossip.Candidate
	err        error
}

func (s *stubSource) FetchCandidates(ctx context.Context) ([]gossip.Candidate, error) {
	s.calls++
	return s.candidates, s.err
}

func (s *stubSource) Name() string { return "stub" }

// stubProber 按预置延迟表返回测量结果，nil 延迟表示不可达
type stubProber struct {
	latencies map[string]time.Duration
}

func (p *stubProber) ProbeAll(ctx context.Context, candidates []gossip.Candidate) ([]probe.Measurement, error) {
	out := make([]probe.Measurement, 0, len(candidates))
	for _, c := range candidates {
		lat, ok := p.latencies[c.Addr.String()]
		out = append(out, probe.Measurement{
			Candidate: c,
			Port:      4001,
			Latency:   lat,
			Reachable: ok,
			ProbedAt:  time.Now(),
		})
	}
	return out, nil
}

type stubChecker struct {
	findings []health.Finding
}

func (c *stubChecker) Check() []health.Finding { return c.findings }

// ============================================================================
//                              测试辅助
// ============================================================================

func candidate(t *testing.T, ip string) gossip.Candidate {
	t.Helper()
	return gossip.Candidate{Addr: netip.MustParseAddr(ip), Origin: "stub"}
}

func newTestSupervisor(t *testing.T, cfg *config.Config, src *stubSource, prober *stubProber) *Supervisor {
	t.Helper()
	s := New(cfg, nil)
	s.source = src
	s.prober = prober
	s.checker = &stubChecker{}
	return s
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.NetworkExplicit = true
	cfg.OverrideGossipConfigPath = filepath.Join(dir, "override_gossip_config.json")
	cfg.VisorConfigPath = filepath.Join(dir, "visor.json")
	return cfg
}

func readConfigFile(t *testing.T, path string) gossip.Config {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg gossip.Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	return cfg
}

// ============================================================================
//                              测试用例
// ============================================================================

// 幂等重启：缓存新鲜时完全跳过发现流程，文件原样保留
func TestPrepareCacheHitSkipsDiscovery(t *testing.T) {
	cfg := testConfig(t)

	// 1. 预置一份新鲜的配置
	fresh := &gossip.Config{
		Network:     chain.Mainnet,
		GeneratedAt: time.Now().Add(-time.Minute),
		Peers:       []gossip.Peer{{IP: "1.2.3.4", Port: 4001}},
	}
	require.NoError(t, gossip.NewCache(nil).WriteAtomic(cfg.OverrideGossipConfigPath, fresh))
	before, err := os.ReadFile(cfg.OverrideGossipConfigPath)
	require.NoError(t, err)

	// 2. 执行准备流程
	src := &stubSource{}
	s := newTestSupervisor(t, cfg, src, &stubProber{})
	require.NoError(t, s.Prepare(context.Background()))

	// 3. 没有发出任何发现请求，文件一个字节都没变
	assert.Zero(t, src.calls)
	after, err := os.ReadFile(cfg.OverrideGossipConfigPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, StateLaunching, s.State())
}

// 强制刷新：过期配置触发完整的发现→探测→筛选→写入
func TestPrepareStaleTriggersRefresh(t *testing.T) {
	cfg := testConfig(t)

	stale := &gossip.Config{
		Network:     chain.Mainnet,
		GeneratedAt: time.Now().Add(-time.Hour),
		Peers:       []gossip.Peer{{IP: "9.9.9.9", Port: 4001}},
	}
	require.NoError(t, gossip.NewCache(nil).WriteAtomic(cfg.OverrideGossipConfigPath, stale))

	src := &stubSource{candidates: []gossip.Candidate{
		candidate(t, "10.0.0.1"),
		candidate(t, "10.0.0.2"),
	}}
	prober := &stubProber{latencies: map[string]time.Duration{
		"10.0.0.1": 60 * time.Millisecond,
		"10.0.0.2": 20 * time.Millisecond,
	}}
	s := newTestSupervisor(t, cfg, src, prober)
	require.NoError(t, s.Prepare(context.Background()))

	assert.Equal(t, 1, src.calls)
	written := readConfigFile(t, cfg.OverrideGossipConfigPath)
	assert.True(t, written.GeneratedAt.After(stale.GeneratedAt))
	require.Len(t, written.Peers, 2)
	// 按延迟升序
	assert.Equal(t, "10.0.0.2", written.Peers[0].IP)
	assert.Equal(t, "10.0.0.1", written.Peers[1].IP)
}

// 网络不匹配在任何网络请求之前中止
func TestPrepareNetworkMismatchShortCircuit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network = chain.Mainnet
	require.NoError(t, visor.WriteConfig(cfg.VisorConfigPath, chain.Testnet))

	src := &stubSource{candidates: []gossip.Candidate{candidate(t, "10.0.0.1")}}
	s := newTestSupervisor(t, cfg, src, &stubProber{})

	err := s.Prepare(context.Background())
	require.ErrorIs(t, err, ErrNetworkMismatch)
	assert.Zero(t, src.calls)
	assert.NoFileExists(t, cfg.OverrideGossipConfigPath)
	assert.Equal(t, StateAborted, s.State())
}

// 没有节点通过延迟筛选时不写配置
func TestPrepareNoReliablePeersNoWrite(t *testing.T) {
	cfg := testConfig(t)

	src := &stubSource{candidates: []gossip.Candidate{
		candidate(t, "10.0.0.1"),
		candidate(t, "10.0.0.2"),
	}}
	// 全部不可达
	s := newTestSupervisor(t, cfg, src, &stubProber{})

	err := s.Prepare(context.Background())
	require.ErrorIs(t, err, probe.ErrNoReliablePeers)
	assert.NoFileExists(t, cfg.OverrideGossipConfigPath)
	assert.Equal(t, StateAborted, s.State())
}

// 发现失败直接中止
func TestPrepareFetchErrorAborts(t *testing.T) {
	cfg := testConfig(t)

	src := &stubSource{err: gossip.ErrPeerFetch}
	s := newTestSupervisor(t, cfg, src, &stubProber{})

	err := s.Prepare(context.Background())
	require.ErrorIs(t, err, gossip.ErrPeerFetch)
	assert.NoFileExists(t, cfg.OverrideGossipConfigPath)
}

// 致命环境检查项中止流程
func TestPrepareFatalFindingAborts(t *testing.T) {
	cfg := testConfig(t)

	src := &stubSource{candidates: []gossip.Candidate{candidate(t, "10.0.0.1")}}
	prober := &stubProber{latencies: map[string]time.Duration{
		"10.0.0.1": 30 * time.Millisecond,
	}}
	s := newTestSupervisor(t, cfg, src, prober)
	s.checker = &stubChecker{findings: []health.Finding{
		{Name: "ipv6", Severity: health.SeverityFatal, Detail: "ipv6 被禁用"},
	}}

	err := s.Prepare(context.Background())
	require.ErrorIs(t, err, health.ErrHealthCheck)
	assert.Equal(t, StateAborted, s.State())
}

func TestResolveNetwork(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visor.json")
	require.NoError(t, visor.WriteConfig(path, chain.Testnet))

	// 未显式指定：以 visor.json 为准
	network, err := ResolveNetwork(chain.Mainnet, false, path)
	require.NoError(t, err)
	assert.Equal(t, chain.Testnet, network)

	// 显式指定且一致
	network, err = ResolveNetwork(chain.Testnet, true, path)
	require.NoError(t, err)
	assert.Equal(t, chain.Testnet, network)

	// 显式指定且不一致
	_, err = ResolveNetwork(chain.Mainnet, true, path)
	require.ErrorIs(t, err, ErrNetworkMismatch)

	// 文件不存在：以声明值为准
	network, err = ResolveNetwork(chain.Mainnet, true, filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, chain.Mainnet, network)
}

func TestLaunchBeforePrepareFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.NodeBinary = "/bin/true"
	s := New(cfg, nil)

	_, err := s.Launch()
	require.ErrorIs(t, err, ErrLaunch)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
}
