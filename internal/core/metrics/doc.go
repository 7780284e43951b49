// Package metrics 提供发现服务的 Prometheus 指标
//
// 指标注册在调用方提供的 prometheus.Registerer 上，命名空间为 discv5：
//   - 数据包：收发计数与字节数，按原因统计的丢弃数
//   - 会话：活跃会话数，握手成功与失败
//   - 请求：按消息类型与结果统计
//   - 查询：按结果统计的查询数与耗时
//   - 封禁与路由表大小
//
// 所有方法对 nil *Metrics 安全，未启用指标时组件可直接持有 nil。
//
//	reg := prometheus.NewRegistry()
//	m, err := metrics.New(reg)
//	m.PacketReceived(128)
//	snap := m.Snapshot()
package metrics
