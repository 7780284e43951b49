package kbucket

import (
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// Direction 连接方向
type Direction int

const (
	// Outgoing 我们先联系对方
	Outgoing Direction = iota
	// Incoming 对方先联系我们
	Incoming
)

// String 返回方向名称
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// State 节点连接状态
type State int

const (
	// Connected 存在活跃会话或最近成功通信
	Connected State = iota
	// Disconnected 请求失败或会话已关闭
	Disconnected
)

// String 返回状态名称
func (s State) String() string {
	if s == Disconnected {
		return "disconnected"
	}
	return "connected"
}

// Status 节点状态
type Status struct {
	Direction Direction
	State     State
}

// ConnectedOutgoing 常用状态：已连接的出站节点
var ConnectedOutgoing = Status{Direction: Outgoing, State: Connected}

// ConnectedIncoming 常用状态：已连接的入站节点
var ConnectedIncoming = Status{Direction: Incoming, State: Connected}

// DisconnectedOutgoing 常用状态：未连接的出站节点（例如查询中发现的节点）
var DisconnectedOutgoing = Status{Direction: Outgoing, State: Disconnected}

// IsIncoming 是否入站
func (s Status) IsIncoming() bool {
	return s.Direction == Incoming
}

// IsConnected 是否已连接
func (s Status) IsConnected() bool {
	return s.State == Connected
}

// Entry 路由表条目
type Entry struct {
	Record   *types.Record
	Status   Status
	LastSeen time.Time
}

// ID 返回节点 ID
func (e Entry) ID() types.NodeID {
	return e.Record.ID
}

// Contact 返回可联系的节点信息
func (e Entry) Contact() types.NodeContact {
	c, _ := types.ContactFromRecord(e.Record)
	return c
}

// InsertResult 插入/更新结果
type InsertResult int

const (
	// Inserted 新节点已加入
	Inserted InsertResult = iota
	// Updated 已有节点的记录或状态已更新
	Updated
	// Unchanged 节点已存在且无变化（仅刷新 LastSeen）
	Unchanged
	// RejectedSelf 本地节点
	RejectedSelf
	// RejectedNoEndpoint 记录未声明 UDP 端点
	RejectedNoEndpoint
	// RejectedStale 记录序号低于已有记录
	RejectedStale
	// RejectedSourceMismatch 入站记录端点与来源地址不符
	RejectedSourceMismatch
	// RejectedFilter 未通过准入谓词
	RejectedFilter
	// RejectedIPLimit 超出子网多样性限制
	RejectedIPLimit
	// RejectedBucketFull 桶已满
	RejectedBucketFull
	// RejectedIncomingLimit 桶内入站节点已达上限
	RejectedIncomingLimit
	// NotFound 更新的节点不在表中
	NotFound
)

var insertResultNames = [...]string{
	Inserted:               "inserted",
	Updated:                "updated",
	Unchanged:              "unchanged",
	RejectedSelf:           "self",
	RejectedNoEndpoint:     "no_endpoint",
	RejectedStale:          "stale",
	RejectedSourceMismatch: "source_mismatch",
	RejectedFilter:         "filter",
	RejectedIPLimit:        "ip_limit",
	RejectedBucketFull:     "bucket_full",
	RejectedIncomingLimit:  "incoming_limit",
	NotFound:               "not_found",
}

// String 返回结果名称
func (r InsertResult) String() string {
	if int(r) < len(insertResultNames) {
		return insertResultNames[r]
	}
	return "unknown"
}

// Changed 路由表是否发生了变化
func (r InsertResult) Changed() bool {
	return r == Inserted || r == Updated
}

// Rejected 是否被拒绝
func (r InsertResult) Rejected() bool {
	return r >= RejectedSelf && r <= RejectedIncomingLimit
}
