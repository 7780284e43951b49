package dht

import (
	"net/netip"

	"github.com/Golem-Base/discv5/internal/core/connmgr"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/discovery/session"
	"github.com/Golem-Base/discv5/pkg/types"
)

// filterGate 将滥用过滤器适配为会话层准入
type filterGate struct {
	filter  *connmgr.Filter
	metrics *metrics.Metrics
}

var _ session.Gate = (*filterGate)(nil)

// Allow 实现 session.Gate
func (g *filterGate) Allow(ip netip.Addr, id *types.NodeID) bool {
	d := g.filter.Admit(ip, id)
	if d.Admitted() {
		return true
	}
	g.metrics.PacketDropped(d.String())
	return false
}

// ReportAuthFailure 实现 session.Gate
func (g *filterGate) ReportAuthFailure(ip netip.Addr, id *types.NodeID) {
	g.filter.ReportAuthFailure(ip, id)
}

// reportResponder 上报响应方的认证失败（如 NODES 中的无效记录）
func (g *filterGate) reportResponder(from types.NodeAddress) {
	id := from.ID
	g.filter.ReportAuthFailure(from.Addr.Addr(), &id)
}
