package metrics

// Snapshot 指标快照
type Snapshot struct {
	// ActiveSessions 当前已建立的会话数
	ActiveSessions int64

	// BytesSent 累计发送字节数
	BytesSent uint64

	// BytesReceived 累计接收字节数
	BytesReceived uint64

	// PacketsDropped 累计丢弃的入站数据包
	PacketsDropped uint64

	// RequestsReceived 累计入站请求数
	RequestsReceived uint64

	// TableSize 路由表大小
	TableSize int64
}

// Snapshot 返回当前快照
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		ActiveSessions:   m.activeSessions.Load(),
		BytesSent:        m.totalBytesOut.Load(),
		BytesReceived:    m.totalBytesIn.Load(),
		PacketsDropped:   m.totalDrops.Load(),
		RequestsReceived: m.inbound.Load(),
		TableSize:        m.nodes.Load(),
	}
}
