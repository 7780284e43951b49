package connmgr

// Decision 入站准入结果
type Decision int

const (
	// Admit 放行
	Admit Decision = iota
	// DropBannedIP IP 已封禁
	DropBannedIP
	// DropBannedNode 节点已封禁
	DropBannedNode
	// DropTotalRate 超出全局速率
	DropTotalRate
	// DropNodeRate 超出单节点速率
	DropNodeRate
	// DropIPRate 超出单 IP 速率
	DropIPRate
)

var decisionNames = [...]string{
	Admit:          "admit",
	DropBannedIP:   "banned_ip",
	DropBannedNode: "banned_node",
	DropTotalRate:  "total_rate",
	DropNodeRate:   "node_rate",
	DropIPRate:     "ip_rate",
}

// String 返回结果名称（用作指标标签）
func (d Decision) String() string {
	if int(d) < len(decisionNames) {
		return decisionNames[d]
	}
	return "unknown"
}

// Admitted 是否放行
func (d Decision) Admitted() bool {
	return d == Admit
}

// BanReason 封禁原因
type BanReason int

const (
	// BanManual 手动或配置封禁
	BanManual BanReason = iota
	// BanRateViolations 多次超出速率限制
	BanRateViolations
	// BanAuthFailures 多次认证失败
	BanAuthFailures
	// BanTooManyNodes 单 IP 使用过多节点 ID
	BanTooManyNodes
	// BanTooManyBannedNodes 单 IP 下过多节点被封禁
	BanTooManyBannedNodes
)

// String 返回原因名称
func (r BanReason) String() string {
	switch r {
	case BanManual:
		return "manual"
	case BanRateViolations:
		return "rate_violations"
	case BanAuthFailures:
		return "auth_failures"
	case BanTooManyNodes:
		return "too_many_nodes"
	case BanTooManyBannedNodes:
		return "too_many_banned_nodes"
	default:
		return "unknown"
	}
}
