package discv5

import (
	"context"
	"net/netip"
	"time"

	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              本地记录
// ════════════════════════════════════════════════════════════════════════════

// LocalID 返回本地节点 ID
func (d *Discv5) LocalID() types.NodeID {
	return d.svc.LocalID()
}

// LocalRecord 返回当前已签名的本地记录
func (d *Discv5) LocalRecord() *types.Record {
	return d.svc.LocalRecord()
}

// SetLocalField 设置本地记录的自定义字段并重新签名，返回新的序号
func (d *Discv5) SetLocalField(key string, value []byte) (uint64, error) {
	return d.svc.SetLocalField(key, value)
}

// ExternalAddress 返回当前通告的外部端点与可达性状态
func (d *Discv5) ExternalAddress() (netip.AddrPort, string) {
	m := d.svc.Monitor()
	return m.Advertised(), m.State().String()
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询
// ════════════════════════════════════════════════════════════════════════════

// FindNode 迭代查询距离 target 最近的节点
//
// 整体超时时返回已得到的部分结果且不报错；ctx 取消时返回 ctx.Err()。
func (d *Discv5) FindNode(ctx context.Context, target types.NodeID) ([]*types.Record, error) {
	return d.svc.FindNode(ctx, target)
}

// FindNodeStrict 同 FindNode，整体超时时额外返回 ErrQueryTimeout
func (d *Discv5) FindNodeStrict(ctx context.Context, target types.NodeID) ([]*types.Record, error) {
	return d.svc.FindNodeStrict(ctx, target)
}

// Ping 向记录所指节点发送 PING
func (d *Discv5) Ping(ctx context.Context, rec *types.Record) (*Pong, error) {
	pong, err := d.svc.Ping(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Pong{Seq: pong.Seq, Observed: pong.Observed}, nil
}

// RequestRecord 向节点请求其最新记录
func (d *Discv5) RequestRecord(ctx context.Context, rec *types.Record) (*types.Record, error) {
	contact, ok := types.ContactFromRecord(rec)
	if !ok {
		return nil, ErrNoEndpoint
	}
	return d.svc.RequestRecord(ctx, contact)
}

// ════════════════════════════════════════════════════════════════════════════
//                              路由表
// ════════════════════════════════════════════════════════════════════════════

// AddRecord 校验记录并以未连接状态加入路由表
func (d *Discv5) AddRecord(rec *types.Record) error {
	return d.svc.AddRecord(rec)
}

// RemoveNode 将节点移出路由表
func (d *Discv5) RemoveNode(id types.NodeID) bool {
	return d.svc.Table().Remove(id)
}

// TableEntries 返回路由表中的全部条目
func (d *Discv5) TableEntries() []TableEntry {
	entries := d.svc.Table().Entries()
	out := make([]TableEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TableEntry{
			Record:    e.Record,
			Connected: e.Status.IsConnected(),
			Incoming:  e.Status.Direction == kbucket.Incoming,
		})
	}
	return out
}

// ════════════════════════════════════════════════════════════════════════════
//                              封禁与放行
// ════════════════════════════════════════════════════════════════════════════

// BanNode 封禁节点并结束其会话，dur <= 0 表示永久
func (d *Discv5) BanNode(id types.NodeID, dur time.Duration) {
	d.svc.BanNode(id, dur)
}

// BanIP 封禁 IP 并结束该 IP 上节点的会话，dur <= 0 表示永久
func (d *Discv5) BanIP(ip netip.Addr, dur time.Duration) {
	d.svc.BanIP(ip, dur)
}

// UnbanNode 解除节点封禁
func (d *Discv5) UnbanNode(id types.NodeID) {
	d.svc.Filter().UnbanNode(id)
}

// UnbanIP 解除 IP 封禁
func (d *Discv5) UnbanIP(ip netip.Addr) {
	d.svc.Filter().UnbanIP(ip)
}

// PermitNode 放行节点，不受限速约束
func (d *Discv5) PermitNode(id types.NodeID) {
	d.svc.Filter().PermitNode(id)
}

// PermitIP 放行 IP，不受限速约束
func (d *Discv5) PermitIP(ip netip.Addr) {
	d.svc.Filter().PermitIP(ip)
}

// RevokeNode 撤销节点放行
func (d *Discv5) RevokeNode(id types.NodeID) {
	d.svc.Filter().RevokeNode(id)
}

// RevokeIP 撤销 IP 放行
func (d *Discv5) RevokeIP(ip netip.Addr) {
	d.svc.Filter().RevokeIP(ip)
}

// ════════════════════════════════════════════════════════════════════════════
//                              观测
// ════════════════════════════════════════════════════════════════════════════

// Metrics 返回指标快照
func (d *Discv5) Metrics() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// Subscribe 订阅发现事件，buffer <= 0 使用默认容量
//
// 订阅通道满时新事件被丢弃。
func (d *Discv5) Subscribe(buffer int) *Subscription {
	return d.svc.Subscribe(buffer)
}

// Events 以默认容量订阅发现事件
func (d *Discv5) Events() *Subscription {
	return d.svc.Subscribe(0)
}
