// Package probe 提供种子节点延迟探测与筛选
//
// 探测是整个引导流程中唯一的并行阶段：对每个候选节点并发发起
// 一次 TCP 连接测量，用信号量限制并发，单个慢节点最多拖慢自己的
// 超时预算，不会阻塞整批收集。
package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dep2p/hl-bootstrap/internal/gossip"
	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("probe")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrNoCandidates 候选列表为空（调用方契约错误）
	ErrNoCandidates = errors.New("no candidates to probe")

	// ErrNoReliablePeers 没有候选通过延迟筛选
	ErrNoReliablePeers = errors.New("no seed peers passed latency threshold")
)

// Measurement 单个候选的一轮探测结果
type Measurement struct {
	// Candidate 被探测的候选
	Candidate gossip.Candidate

	// Port 探测的端口
	Port int

	// Latency 连接建立耗时，不可达时无意义
	Latency time.Duration

	// Reachable 是否在超时内建立了连接
	Reachable bool

	// ProbedAt 探测时间
	ProbedAt time.Time
}

// Prober 延迟探测器
type Prober struct {
	// port gossip 端口
	port int

	// timeout 单个探测的超时
	timeout time.Duration

	// concurrency 最大并发探测数
	concurrency int64
}

// NewProber 创建探测器
func NewProber(port int, timeout time.Duration, concurrency int) *Prober {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Prober{
		port:        port,
		timeout:     timeout,
		concurrency: int64(concurrency),
	}
}

// ProbeAll 并发探测全部候选
//
// 返回与输入等长的结果集，顺序与输入一致：这一层不丢弃任何
// 候选，不可达只是一种测量结果。单个探测的失败永远不会让
// 整批失败；只有空输入和上下文取消会返回错误。
func (p *Prober) ProbeAll(ctx context.Context, candidates []gossip.Candidate) ([]Measurement, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	log.Info("testing latency to seed nodes",
		"candidates", len(candidates),
		"concurrency", p.concurrency,
		"timeout", p.timeout)

	sem := semaphore.NewWeighted(p.concurrency)
	results := make([]Measurement, len(candidates))

	var wg sync.WaitGroup
	for idx, candidate := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			// 上下文取消：放弃尚未开始的探测，等在途的收尾
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(idx int, candidate gossip.Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			results[idx] = p.probeOne(ctx, candidate)
		}(idx, candidate)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	successful, failed := 0, 0
	for _, m := range results {
		if m.Reachable {
			successful++
		} else {
			failed++
		}
	}
	log.Info("latency test complete", "successful", successful, "failed", failed)

	return results, nil
}

// probeOne 探测单个候选
//
// 一次 TCP 连接建立即为一次测量；连接失败或超时记为不可达，
// 不区分失败原因。
func (p *Prober) probeOne(ctx context.Context, candidate gossip.Candidate) Measurement {
	m := Measurement{
		Candidate: candidate,
		Port:      p.port,
		ProbedAt:  time.Now(),
	}

	addr := net.JoinHostPort(candidate.Addr.String(), strconv.Itoa(p.port))

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		log.Debug("latency test failed", "node", addr, "err", err)
		return m
	}
	_ = conn.Close()

	m.Latency = time.Since(start)
	m.Reachable = true

	log.Debug("latency test ok", "node", addr, "latency", m.Latency)
	return m
}
