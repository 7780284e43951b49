package types

import (
	"net/netip"
	"time"
)

// ============================================================================
//                              Event - 事件接口
// ============================================================================

// Event 基础事件接口
type Event interface {
	// Type 返回事件类型
	Type() string

	// Timestamp 返回事件时间戳
	Timestamp() time.Time
}

// 事件类型
const (
	EventTypeDiscovered         = "discovered"
	EventTypeSessionEstablished = "session_established"
	EventTypeSessionClosed      = "session_closed"
	EventTypeNodeInserted       = "node_inserted"
	EventTypeSocketUpdated      = "socket_updated"
	EventTypeAddressRetracted   = "address_retracted"
)

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType string
	Time      time.Time
}

// Type 返回事件类型
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string, now time.Time) BaseEvent {
	return BaseEvent{EventType: eventType, Time: now}
}

// ============================================================================
//                              发现事件
// ============================================================================

// EventDiscovered 查询过程中发现了新记录
//
// 无论该节点是否被选为后续查询目标都会上报（受 ReportDiscoveredPeers 控制）。
type EventDiscovered struct {
	BaseEvent
	Record *Record
}

// EventNodeInserted 节点进入路由表
type EventNodeInserted struct {
	BaseEvent
	ID       NodeID
	Incoming bool
}

// ============================================================================
//                              会话事件
// ============================================================================

// EventSessionEstablished 会话握手完成
type EventSessionEstablished struct {
	BaseEvent
	Record   *Record
	Addr     netip.AddrPort
	Incoming bool
}

// EventSessionClosed 会话过期或被驱逐
type EventSessionClosed struct {
	BaseEvent
	ID     NodeID
	Addr   netip.AddrPort
	Reason string
}

// ============================================================================
//                              可达性事件
// ============================================================================

// EventSocketUpdated 本地记录的外部地址已更新
type EventSocketUpdated struct {
	BaseEvent
	Addr netip.AddrPort
	Seq  uint64
}

// EventAddressRetracted 外部地址被撤回（推断处于防火墙后）
type EventAddressRetracted struct {
	BaseEvent
	Addr  netip.AddrPort
	Until time.Time
}
