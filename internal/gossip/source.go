package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/netip"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/chain"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var srcLog = logger.Logger("gossip.source")

// 种子节点来源端点
const (
	// MainnetInfoURL 主网公开 API
	MainnetInfoURL = "https://api.hyperliquid.xyz/info"

	// MainnetSeedListURL 主网非验证者种子节点公开列表（主 API 失败时的后备）
	MainnetSeedListURL = "https://raw.githubusercontent.com/hyperliquid-dex/node/main/override_gossip_config.json"

	// TestnetPeersURL 测试网第三方端点
	// Imperator.co is generous
	TestnetPeersURL = "https://hyperliquid-testnet.imperator.co/peers.json"
)

// 重试策略
const (
	fetchAttempts     = 3
	fetchBackoffBase  = 500 * time.Millisecond
	backoffMultiplier = 2.0
	backoffJitter     = 0.2
)

// Source 种子节点来源
//
// 每个网络一个实现，启动时根据已校验的网络标识选择一次。
type Source interface {
	// FetchCandidates 获取候选种子节点
	//
	// 瞬时错误（超时、5xx、连接拒绝）内部有限重试；重试耗尽或
	// 成功但结果为空时返回 ErrPeerFetch。对整次运行是致命错误：
	// 零候选等于放弃检查的意义。
	FetchCandidates(ctx context.Context) ([]Candidate, error)

	// Name 来源标签
	Name() string
}

// NewSource 按网络创建来源
func NewSource(network chain.Network, ignored []netip.Addr) Source {
	client := &http.Client{Timeout: 10 * time.Second}
	skip := make(map[netip.Addr]struct{}, len(ignored))
	for _, addr := range ignored {
		skip[addr] = struct{}{}
	}

	if network == chain.Testnet {
		return &TestnetSource{
			client:  client,
			url:     TestnetPeersURL,
			ignored: skip,
		}
	}
	return &MainnetSource{
		client:      client,
		infoURL:     MainnetInfoURL,
		seedListURL: MainnetSeedListURL,
		ignored:     skip,
	}
}

// ============================================================================
//                              主网来源
// ============================================================================

// MainnetSource 主网种子节点来源
//
// 首选官方 API 的 gossipRootIps 查询；失败或结果为空时
// 回退到公开的种子节点列表文档。
type MainnetSource struct {
	client      *http.Client
	infoURL     string
	seedListURL string
	ignored     map[netip.Addr]struct{}
}

// Name 实现 Source
func (s *MainnetSource) Name() string { return "mainnet-api" }

// FetchCandidates 实现 Source
func (s *MainnetSource) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	candidates, primaryErr := s.fetchRootIPs(ctx)
	if primaryErr == nil && len(candidates) > 0 {
		return candidates, nil
	}

	if primaryErr != nil {
		srcLog.Warn("主网 API 获取失败，尝试后备列表", "err", primaryErr)
	} else {
		srcLog.Warn("主网 API 返回空集合，尝试后备列表")
	}

	candidates, fallbackErr := s.fetchSeedList(ctx)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: api: %v; fallback: %v", ErrPeerFetch, primaryErr, fallbackErr)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrPeerFetch, ErrEmptyPeerSet)
	}

	return candidates, nil
}

// fetchRootIPs 查询官方 API
//
// 请求体 {"type":"gossipRootIps"}，响应为 IP 字符串数组。
func (s *MainnetSource) fetchRootIPs(ctx context.Context) ([]Candidate, error) {
	body, err := fetchWithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.infoURL,
			bytes.NewReader([]byte(`{"type":"gossipRootIps"}`)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return doRequest(s.client, req)
	})
	if err != nil {
		return nil, err
	}

	var ips []string
	if err := json.Unmarshal(body, &ips); err != nil {
		return nil, fmt.Errorf("解析主网种子节点失败: %w", err)
	}

	return s.toCandidates(ips, "mainnet-api"), nil
}

// fetchSeedList 获取后备种子节点列表
func (s *MainnetSource) fetchSeedList(ctx context.Context) ([]Candidate, error) {
	body, err := fetchWithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.seedListURL, nil)
		if err != nil {
			return nil, err
		}
		return doRequest(s.client, req)
	})
	if err != nil {
		return nil, err
	}

	ips, err := parseUpstreamConfig(body)
	if err != nil {
		return nil, fmt.Errorf("解析后备种子节点列表失败: %w", err)
	}

	return s.toCandidates(ips, "mainnet-seed-list"), nil
}

func (s *MainnetSource) toCandidates(ips []string, origin string) []Candidate {
	return toCandidates(ips, origin, s.ignored)
}

// ============================================================================
//                              测试网来源
// ============================================================================

// TestnetSource 测试网种子节点来源
//
// 第三方端点返回上游 override_gossip_config 形状的 JSON。
type TestnetSource struct {
	client  *http.Client
	url     string
	ignored map[netip.Addr]struct{}
}

// Name 实现 Source
func (s *TestnetSource) Name() string { return "testnet-imperator" }

// FetchCandidates 实现 Source
func (s *TestnetSource) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	body, err := fetchWithRetry(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return nil, err
		}
		return doRequest(s.client, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerFetch, err)
	}

	ips, err := parseUpstreamConfig(body)
	if err != nil {
		return nil, fmt.Errorf("%w: 解析测试网种子节点失败: %v", ErrPeerFetch, err)
	}

	candidates := toCandidates(ips, s.Name(), s.ignored)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrPeerFetch, ErrEmptyPeerSet)
	}

	return candidates, nil
}

// ============================================================================
//                              公共辅助
// ============================================================================

// upstreamConfig 上游 override_gossip_config 的形状（只取需要的字段）
type upstreamConfig struct {
	RootNodeIPs []struct {
		IP string `json:"Ip"`
	} `json:"root_node_ips"`
}

func parseUpstreamConfig(body []byte) ([]string, error) {
	var cfg upstreamConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, err
	}

	ips := make([]string, 0, len(cfg.RootNodeIPs))
	for _, node := range cfg.RootNodeIPs {
		ips = append(ips, node.IP)
	}
	return ips, nil
}

// toCandidates 解析并过滤候选节点
//
// 非法地址、忽略名单内的地址和重复地址直接丢弃。
func toCandidates(ips []string, origin string, ignored map[netip.Addr]struct{}) []Candidate {
	seen := make(map[netip.Addr]struct{}, len(ips))
	candidates := make([]Candidate, 0, len(ips))

	for _, raw := range ips {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			srcLog.Warn("跳过非法种子节点地址", "addr", raw, "err", err)
			continue
		}
		if _, ok := ignored[addr]; ok {
			srcLog.Debug("跳过忽略名单中的种子节点", "ip", addr.String())
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}

		candidates = append(candidates, Candidate{Addr: addr, Origin: origin})
	}

	return candidates
}

// doRequest 执行请求并读取响应体
//
// 5xx 返回 transientError，让重试逻辑区分瞬时与永久失败。
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		// 网络层错误一律视为瞬时
		return nil, &transientError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, &transientError{err: fmt.Errorf("服务端错误: %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("非预期状态码: %s", resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// transientError 可重试的瞬时错误
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// fetchWithRetry 带指数退避的有限重试
//
// 仅对瞬时错误重试；永久错误（4xx、解析失败等）立即返回。
// 退避加抖动防止多实例同时重启时的惊群效应。
func fetchWithRetry(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	var lastErr error

	backoff := float64(fetchBackoffBase)
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(backoff * (1 + (rand.Float64()*2-1)*backoffJitter))
			srcLog.Debug("重试前退避", "attempt", attempt, "wait", wait)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			backoff *= backoffMultiplier
		}

		body, err := fn(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var transient *transientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		srcLog.Warn("获取失败，将重试", "attempt", attempt+1, "err", err)
	}

	return nil, fmt.Errorf("重试 %d 次后仍失败: %w", fetchAttempts, lastErr)
}
