package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const namespace = "discv5"

// ============================================================================
//                              Metrics
// ============================================================================

// Metrics 发现服务指标集合
type Metrics struct {
	packetsIn    prometheus.Counter
	packetsOut   prometheus.Counter
	bytesIn      prometheus.Counter
	bytesOut     prometheus.Counter
	drops        *prometheus.CounterVec
	sessions     prometheus.Gauge
	handshakes   *prometheus.CounterVec
	requests     *prometheus.CounterVec
	queries      *prometheus.CounterVec
	queryLatency prometheus.Histogram
	bans         *prometheus.CounterVec
	tableSize    prometheus.Gauge

	// 快照计数器
	activeSessions atomic.Int64
	totalBytesIn   atomic.Uint64
	totalBytesOut  atomic.Uint64
	totalDrops     atomic.Uint64
	inbound        atomic.Uint64
	nodes          atomic.Int64
}

// New 创建指标并注册到 reg
//
// reg 为 nil 时只维护快照计数器，不注册任何收集器。
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		packetsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "received_total",
			Help: "Number of UDP packets received.",
		}),
		packetsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "sent_total",
			Help: "Number of UDP packets sent.",
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "received_bytes_total",
			Help: "Bytes received.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "sent_bytes_total",
			Help: "Bytes sent.",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "packets", Name: "dropped_total",
			Help: "Inbound packets dropped, by reason.",
		}, []string{"reason"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "active",
			Help: "Established sessions.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "handshakes_total",
			Help: "Handshakes by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "requests_total",
			Help: "Outbound requests by message kind and outcome.",
		}, []string{"kind", "outcome"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "finished_total",
			Help: "Finished lookups by outcome.",
		}, []string{"outcome"}),
		queryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "duration_seconds",
			Help:    "Lookup duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		bans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "filter", Name: "bans_total",
			Help: "Bans issued, by target and reason.",
		}, []string{"target", "reason"}),
		tableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "table", Name: "entries",
			Help: "Routing table entries.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	for _, c := range m.collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.packetsIn, m.packetsOut, m.bytesIn, m.bytesOut, m.drops,
		m.sessions, m.handshakes, m.requests, m.queries, m.queryLatency,
		m.bans, m.tableSize,
	}
}

// ============================================================================
//                              数据包
// ============================================================================

// PacketReceived 记录一个入站数据包
func (m *Metrics) PacketReceived(size int) {
	if m == nil {
		return
	}
	m.packetsIn.Inc()
	m.bytesIn.Add(float64(size))
	m.totalBytesIn.Add(uint64(size))
}

// PacketSent 记录一个出站数据包
func (m *Metrics) PacketSent(size int) {
	if m == nil {
		return
	}
	m.packetsOut.Inc()
	m.bytesOut.Add(float64(size))
	m.totalBytesOut.Add(uint64(size))
}

// PacketDropped 记录一个被丢弃的入站数据包
func (m *Metrics) PacketDropped(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
	m.totalDrops.Add(1)
}

// RequestReceived 记录一个入站请求
func (m *Metrics) RequestReceived() {
	if m == nil {
		return
	}
	m.inbound.Add(1)
}

// ============================================================================
//                              会话
// ============================================================================

// SessionEstablished 记录握手成功
func (m *Metrics) SessionEstablished() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("ok").Inc()
	m.sessions.Inc()
	m.activeSessions.Add(1)
}

// SessionClosed 记录会话结束
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.activeSessions.Add(-1)
}

// HandshakeFailed 记录握手或认证失败
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("failed").Inc()
}

// ============================================================================
//                              请求与查询
// ============================================================================

// RequestFinished 记录一次出站请求的结果
func (m *Metrics) RequestFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
}

// QueryFinished 记录一次查询的结果与耗时
func (m *Metrics) QueryFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryLatency.Observe(d.Seconds())
}

// Banned 记录一次封禁
func (m *Metrics) Banned(target, reason string) {
	if m == nil {
		return
	}
	m.bans.WithLabelValues(target, reason).Inc()
}

// SetTableSize 更新路由表大小
func (m *Metrics) SetTableSize(n int) {
	if m == nil {
		return
	}
	m.tableSize.Set(float64(n))
	m.nodes.Store(int64(n))
}
