package types

import (
	"fmt"
	"net/netip"
)

// NodeAddress 会话键：节点 ID + UDP 端点
//
// 同一节点从不同端点发起的会话互相独立。
type NodeAddress struct {
	ID   NodeID
	Addr netip.AddrPort
}

// String 返回可读表示
func (a NodeAddress) String() string {
	return fmt.Sprintf("%s@%s", a.ID.ShortString(), a.Addr)
}

// NodeContact 可联系的节点
//
// Record 可能为空（仅知道 ID 与端点的入站节点）。
type NodeContact struct {
	ID     NodeID
	Addr   netip.AddrPort
	Record *Record
}

// ContactFromRecord 从记录构造联系方式
//
// 记录未声明 UDP 端点时返回 false。
func ContactFromRecord(r *Record) (NodeContact, bool) {
	addr := r.UDPAddr()
	if !addr.IsValid() {
		return NodeContact{}, false
	}
	return NodeContact{ID: r.ID, Addr: addr, Record: r}, true
}

// Address 返回会话键
func (c NodeContact) Address() NodeAddress {
	return NodeAddress{ID: c.ID, Addr: c.Addr}
}

// String 返回可读表示
func (c NodeContact) String() string {
	return c.Address().String()
}

// Packet 传输层收到的数据包
type Packet struct {
	From netip.AddrPort
	Data []byte
}
