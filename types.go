package discv5

import (
	"net/netip"

	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/discovery/dht"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              公共类型
// ════════════════════════════════════════════════════════════════════════════

// Subscription 事件订阅，Out() 在 Close 或服务关闭后关闭
type Subscription = dht.Subscription

// MetricsSnapshot 指标快照
type MetricsSnapshot = metrics.Snapshot

// Pong PING 的应答
type Pong struct {
	// Seq 对端记录序号
	Seq uint64

	// Observed 对端观察到的本节点端点
	Observed netip.AddrPort
}

// TableEntry 路由表条目
type TableEntry struct {
	Record *types.Record

	// Connected 是否存在已建立的会话
	Connected bool

	// Incoming 是否由对端先发起联系
	Incoming bool
}
