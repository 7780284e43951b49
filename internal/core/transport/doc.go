// Package transport 提供数据报传输适配
//
// 发现协议只需要无连接的数据报收发，由 interfaces.Transport 描述：
//
//	Send(ctx, to, data) error
//	Packets() <-chan types.Packet
//
// # 实现
//
//   - udp：基于 net.UDPConn 的生产实现
//   - memory：进程内模拟网络，用于多节点测试与仿真，可注入丢包
//
// 两种实现都不保证投递，入站队列满时丢弃数据包。
package transport
