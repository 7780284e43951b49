package interfaces

import (
	"context"
	"net/netip"

	"github.com/Golem-Base/discv5/pkg/types"
)

// Transport 数据报传输接口
//
// 发现核心只依赖该接口，不解析原始套接字。
type Transport interface {
	// Send 向目标端点发送一个数据报
	Send(ctx context.Context, to netip.AddrPort, data []byte) error

	// Packets 返回入站数据报通道，Close 后关闭
	Packets() <-chan types.Packet

	// LocalAddr 返回本地监听端点
	LocalAddr() netip.AddrPort

	// Close 关闭传输
	Close() error
}
