package config

import (
	"fmt"
	"strings"
)

// ValidationError 配置校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("配置错误 [%s]: %s", e.Field, e.Message)
}

// ValidationErrors 多个配置校验错误
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors 是否有错误
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate 校验配置
//
// 返回所有发现的问题，而不是在第一个问题处停止。
func (c *Config) Validate() error {
	v := &validator{}

	if c.OverrideGossipConfigPath == "" {
		v.addError("override-gossip-config-path", "必填")
	}
	if c.OverrideGossipConfigMaxAge <= 0 {
		v.addError("override-gossip-config-max-age", "必须为正")
	}
	if c.SeedPeersAmount <= 0 {
		v.addError("seed-peers-amount", "必须为正")
	}
	if c.SeedPeersMaxLatency <= 0 {
		v.addError("seed-peers-max-latency", "必须为正")
	}
	if c.GossipPort <= 0 || c.GossipPort > 65535 {
		v.addError("gossip-port", "必须在 1-65535 范围内")
	}
	if c.ProbeConcurrency <= 0 {
		v.addError("probe-concurrency", "必须为正")
	}
	if c.SnapshotListenAddress != "" && c.SnapshotDirectory == "" {
		v.addError("snapshot-directory", "启用快照服务时必填")
	}
	if c.PruneInterval < 0 {
		v.addError("prune-interval", "不可为负")
	}
	if c.PruneEnabled() && c.DataDirectory == "" {
		v.addError("data-directory", "启用数据清理时必填")
	}
	if c.PruneEnabled() && c.PruneOlderThan <= 0 {
		v.addError("prune-older-than", "必须为正")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validator 配置校验器
type validator struct {
	errors ValidationErrors
}

// addError 添加错误
func (v *validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}
