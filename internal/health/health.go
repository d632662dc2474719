// Package health 提供主机运行环境检查
//
// 引导流程在启动节点前验证宿主机的前置条件。检查不做网络 I/O，
// 只看操作系统与套接字层面的状态。
package health

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/dep2p/hl-bootstrap/internal/util/logger"
)

var log = logger.Logger("health")

// ErrHealthCheck 存在致命的环境检查结果
var ErrHealthCheck = errors.New("environment check failed")

// Severity 检查结果严重级别
type Severity int

const (
	// SeverityWarning 仅警告，不阻止启动
	SeverityWarning Severity = iota
	// SeverityFatal 阻止启动节点
	SeverityFatal
)

// String 返回严重级别名称
func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "warning"
}

// ParseSeverity 解析严重级别名称
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fatal":
		return SeverityFatal, nil
	case "warn", "warning":
		return SeverityWarning, nil
	default:
		return SeverityFatal, fmt.Errorf("unknown severity '%s'", s)
	}
}

// Finding 一条检查结果
type Finding struct {
	// Name 检查项名称
	Name string

	// Severity 严重级别
	Severity Severity

	// Detail 人类可读的说明
	Detail string
}

// Checker 环境检查器
type Checker struct {
	// ipv6Severity IPv6 不可用时的严重级别
	//
	// 部分种子节点可能只有 IPv6 地址；IPv6 被禁用的节点会
	// 静默连不上这部分配置的节点，因此默认 Fatal。
	ipv6Severity Severity
}

// NewChecker 创建检查器
func NewChecker(ipv6Severity Severity) *Checker {
	return &Checker{ipv6Severity: ipv6Severity}
}

// Check 运行全部检查
//
// 返回所有结果，由调用方决定哪些阻止启动（见 FatalError）。
func (c *Checker) Check() []Finding {
	var findings []Finding

	if !ipv6Available() {
		findings = append(findings, Finding{
			Name:     "ipv6",
			Severity: c.ipv6Severity,
			Detail:   "IPv6 在宿主机上不可用，IPv6-only 的种子节点将无法连接",
		})
	}

	for _, f := range findings {
		switch f.Severity {
		case SeverityFatal:
			log.Error("环境检查未通过", "check", f.Name, "detail", f.Detail)
		default:
			log.Warn("环境检查告警", "check", f.Name, "detail", f.Detail)
		}
	}

	return findings
}

// FatalError 聚合所有致命结果
//
// 没有致命结果时返回 nil。
func FatalError(findings []Finding) error {
	var err error
	for _, f := range findings {
		if f.Severity != SeverityFatal {
			continue
		}
		err = multierr.Append(err, fmt.Errorf("%s: %s", f.Name, f.Detail))
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrHealthCheck, err)
	}
	return nil
}

// ipv6Available 检查 IPv6 是否在系统层面可用
//
// 先查 sysctl，再做一次套接字层面的验证：sysctl 正常但协议栈
// 没装载的环境（某些容器运行时）也要能识别出来。
func ipv6Available() bool {
	if disabled, ok := readSysctlIPv6Disabled(); ok && disabled {
		return false
	}

	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		log.Debug("IPv6 套接字探测失败", "err", err)
		return false
	}
	_ = ln.Close()

	return true
}

// readSysctlIPv6Disabled 读取 net.ipv6.conf.all.disable_ipv6
//
// 第二个返回值表示是否成功读到该键（非 Linux 或受限容器可能读不到）。
func readSysctlIPv6Disabled() (bool, bool) {
	data, err := os.ReadFile("/proc/sys/net/ipv6/conf/all/disable_ipv6")
	if err != nil {
		return false, false
	}
	return strings.TrimSpace(string(data)) == "1", true
}
