package probe

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/hl-bootstrap/internal/gossip"
)

func candidate(ip string) gossip.Candidate {
	return gossip.Candidate{Addr: netip.MustParseAddr(ip), Origin: "test"}
}

func TestProbeAll_EmptyInput(t *testing.T) {
	prober := NewProber(4001, 50*time.Millisecond, 4)

	_, err := prober.ProbeAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestProbeAll_ReachableListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	prober := NewProber(port, time.Second, 4)

	results, err := prober.ProbeAll(context.Background(), []gossip.Candidate{candidate("127.0.0.1")})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Reachable)
	assert.Greater(t, results[0].Latency, time.Duration(0))
	assert.Equal(t, port, results[0].Port)
}

func TestProbeAll_UnreachableDoesNotFail(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	prober := NewProber(port, 100*time.Millisecond, 4)

	// 192.0.2.0/24 (TEST-NET-1) 不可路由
	candidates := []gossip.Candidate{
		candidate("127.0.0.1"),
		candidate("192.0.2.1"),
	}

	results, err := prober.ProbeAll(context.Background(), candidates)
	require.NoError(t, err)

	// 结果与输入等长且顺序一致：不可达不是错误
	require.Len(t, results, 2)
	assert.True(t, results[0].Reachable)
	assert.False(t, results[1].Reachable)
	assert.Equal(t, "192.0.2.1", results[1].Candidate.Addr.String())
}

func TestProbeAll_BoundedByTimeout(t *testing.T) {
	prober := NewProber(4001, 100*time.Millisecond, 8)

	candidates := []gossip.Candidate{
		candidate("192.0.2.1"),
		candidate("192.0.2.2"),
		candidate("192.0.2.3"),
		candidate("192.0.2.4"),
	}

	start := time.Now()
	results, err := prober.ProbeAll(context.Background(), candidates)
	require.NoError(t, err)

	// 并发探测：总耗时接近单个超时，而不是超时之和
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, results, 4)
}

func TestProbeAll_ContextCanceled(t *testing.T) {
	prober := NewProber(4001, 5*time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := prober.ProbeAll(ctx, []gossip.Candidate{candidate("192.0.2.1")})
	require.Error(t, err)
}
