// Package metrics 提供引导流程的 Prometheus 指标
//
// 指标服务与引导流程解耦：引导阶段只把结果快照写进 Collector，
// 服务启动后独立存活，不阻塞也不被引导流程阻塞。
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/hl-bootstrap/internal/probe"
)

// Collector 引导指标收集器
type Collector struct {
	registry *prometheus.Registry

	// peerLatency 最近一轮探测中每个候选的延迟
	peerLatency *prometheus.GaugeVec

	// probeTotal 探测结果计数
	probeTotal *prometheus.CounterVec

	// selectedPeers 最终选出的种子节点数
	selectedPeers prometheus.Gauge

	// healthFindings 按严重级别统计的环境检查结果
	healthFindings *prometheus.GaugeVec

	// configGeneratedAt 当前配置的生成时间（Unix 秒），0 表示未知
	configGeneratedAt atomic.Int64
}

// NewCollector 创建收集器并注册全部指标
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		peerLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hl_bootstrap",
			Name:      "peer_latency_seconds",
			Help:      "最近一轮探测中各候选种子节点的连接延迟",
		}, []string{"peer"}),
		probeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hl_bootstrap",
			Name:      "probe_total",
			Help:      "探测次数，按结果分类",
		}, []string{"result"}),
		selectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hl_bootstrap",
			Name:      "selected_peers",
			Help:      "写入配置的种子节点数量",
		}),
		healthFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hl_bootstrap",
			Name:      "health_findings",
			Help:      "环境检查结果数量，按严重级别分类",
		}, []string{"severity"}),
	}

	c.registry.MustRegister(
		c.peerLatency,
		c.probeTotal,
		c.selectedPeers,
		c.healthFindings,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "hl_bootstrap",
			Name:      "gossip_config_age_seconds",
			Help:      "当前 override_gossip_config.json 的年龄",
		}, func() float64 {
			generatedAt := c.configGeneratedAt.Load()
			if generatedAt == 0 {
				return 0
			}
			return time.Since(time.Unix(generatedAt, 0)).Seconds()
		}),
	)

	return c
}

// Registry 返回底层注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveProbes 记录一轮完整的探测结果
func (c *Collector) ObserveProbes(measurements []probe.Measurement) {
	for _, m := range measurements {
		if m.Reachable {
			c.probeTotal.WithLabelValues("ok").Inc()
			c.peerLatency.WithLabelValues(m.Candidate.Addr.String()).Set(m.Latency.Seconds())
		} else {
			c.probeTotal.WithLabelValues("unreachable").Inc()
		}
	}
}

// SetSelectedPeers 记录最终选出的节点数
func (c *Collector) SetSelectedPeers(n int) {
	c.selectedPeers.Set(float64(n))
}

// SetConfigGeneratedAt 记录当前配置的生成时间
func (c *Collector) SetConfigGeneratedAt(t time.Time) {
	c.configGeneratedAt.Store(t.Unix())
}

// SetHealthFindings 记录环境检查结果数量
func (c *Collector) SetHealthFindings(fatal, warning int) {
	c.healthFindings.WithLabelValues("fatal").Set(float64(fatal))
	c.healthFindings.WithLabelValues("warning").Set(float64(warning))
}
