// Package snapshot 提供节点快照 HTTP 服务
//
// 两个能力：
//   - GET /snapshot 通过节点本地 RPC 触发一次文件快照落盘，
//     返回落盘路径或直接流式返回文件内容
//   - /files/ 只读托管快照目录下的已有文件
package snapshot

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// 支持的快照类型
const (
	TypeL4Snapshots    = "l4Snapshots"
	TypeReferrerStates = "referrerStates"
)

// Request 一次快照请求
type Request struct {
	// Type 快照类型
	Type string

	// IncludeUsers 仅 l4Snapshots 有效
	IncludeUsers bool

	// IncludeTriggerOrders 仅 l4Snapshots 有效
	IncludeTriggerOrders bool

	// IncludeHeightInOutput 输出中是否带高度
	IncludeHeightInOutput bool

	// StreamContents 是否直接流式返回文件内容
	StreamContents bool
}

// ValidType 检查快照类型是否受支持
func ValidType(t string) bool {
	return t == TypeL4Snapshots || t == TypeReferrerStates
}

// FilePath 生成快照落盘路径
//
// UUIDv7 保证路径按时间有序且不冲突。
func FilePath(dir, snapshotType string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成快照 ID 失败: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", snapshotType, id)), nil
}

// nodePayload 发给节点 RPC 的请求体
func nodePayload(req Request, outPath string) map[string]any {
	request := map[string]any{
		"type": req.Type,
	}
	if req.Type == TypeL4Snapshots {
		request["includeUsers"] = req.IncludeUsers
		request["includeTriggerOrders"] = req.IncludeTriggerOrders
	}

	return map[string]any{
		"type":                  "fileSnapshot",
		"request":               request,
		"includeHeightInOutput": req.IncludeHeightInOutput,
		"outPath":               outPath,
	}
}
