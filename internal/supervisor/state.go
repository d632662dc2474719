package supervisor

// State 引导流程所处的阶段
//
// 状态只沿一个方向推进，任何非终态发生致命错误都会跳到 StateAborted。
type State int

const (
	// StateInit 初始状态
	StateInit State = iota

	// StateValidatingNetwork 校验声明的网络身份
	StateValidatingNetwork

	// StateResolvingConfig 解析种子节点配置（缓存命中或完整发现）
	StateResolvingConfig

	// StateHealthChecking 运行环境检查
	StateHealthChecking

	// StateLaunching 启动辅助服务并准备移交
	StateLaunching

	// StateHandoff 控制权已交给节点进程（终态）
	StateHandoff

	// StateAborted 因致命错误中止（终态）
	StateAborted
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateValidatingNetwork:
		return "validating-network"
	case StateResolvingConfig:
		return "resolving-config"
	case StateHealthChecking:
		return "health-checking"
	case StateLaunching:
		return "launching"
	case StateHandoff:
		return "handoff"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
