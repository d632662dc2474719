package probe

import (
	"sort"
	"time"

	"github.com/dep2p/hl-bootstrap/internal/gossip"
)

// Select 从测量结果中筛选最终的种子节点集合
//
// 算法：
//  1. 丢弃不可达与延迟超过 maxLatency 的测量
//  2. 按延迟升序稳定排序（延迟相同时保持输入顺序，保证确定性）
//  3. 取前 amount 个
//
// 合格节点不足 amount 个时返回全部合格节点；一个都没有时返回
// ErrNoReliablePeers —— 带着一个不可信的空种子集启动节点，
// 比启动失败更糟。
func Select(measurements []Measurement, maxLatency time.Duration, amount int) ([]gossip.Peer, error) {
	qualified := make([]Measurement, 0, len(measurements))
	for _, m := range measurements {
		if !m.Reachable {
			continue
		}
		if m.Latency > maxLatency {
			log.Debug("node over latency threshold",
				"node", m.Candidate.Addr.String(),
				"latency", m.Latency,
				"maxLatency", maxLatency)
			continue
		}
		qualified = append(qualified, m)
	}

	if len(qualified) == 0 {
		return nil, ErrNoReliablePeers
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].Latency < qualified[j].Latency
	})

	if amount > len(qualified) {
		amount = len(qualified)
	}

	peers := make([]gossip.Peer, 0, amount)
	for idx, m := range qualified[:amount] {
		log.Info("picked seed node",
			"idx", idx,
			"node", m.Candidate.Addr.String(),
			"latency", m.Latency,
			"origin", m.Candidate.Origin)

		peers = append(peers, gossip.Peer{
			IP:   m.Candidate.Addr.String(),
			Port: m.Port,
		})
	}

	return peers, nil
}
