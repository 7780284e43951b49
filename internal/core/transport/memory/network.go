// Package memory 进程内模拟数据报网络
package memory

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/Golem-Base/discv5/internal/core/transport"
	"github.com/Golem-Base/discv5/pkg/types"
)

// DropFunc 返回 true 时丢弃该数据包
type DropFunc func(from, to netip.AddrPort, data []byte) bool

// Network 模拟网络
type Network struct {
	mu    sync.RWMutex
	nodes map[netip.AddrPort]*Transport
	next  uint32
	drop  DropFunc
}

// NewNetwork 创建模拟网络
func NewNetwork() *Network {
	return &Network{nodes: make(map[netip.AddrPort]*Transport)}
}

// SetDropFunc 设置丢包规则，nil 表示不丢包
func (n *Network) SetDropFunc(fn DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = fn
}

// Listen 在 addr 上创建端点
//
// addr 为零值时分配 10.0.0.0/8 内的唯一地址，端口 9000。
func (n *Network) Listen(addr netip.AddrPort) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !addr.IsValid() {
		n.next++
		ip := netip.AddrFrom4([4]byte{10, byte(n.next >> 16), byte(n.next >> 8), byte(n.next)})
		addr = netip.AddrPortFrom(ip, 9000)
	}
	if addr.Port() == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, addr)
	}
	if _, ok := n.nodes[addr]; ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrAddressInUse, addr)
	}
	t := &Transport{
		net:     n,
		local:   addr,
		packets: make(chan types.Packet, transport.DefaultQueueSize),
	}
	n.nodes[addr] = t
	return t, nil
}

// Len 返回端点数
func (n *Network) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

func (n *Network) deliver(from, to netip.AddrPort, data []byte) {
	n.mu.RLock()
	dst, ok := n.nodes[to]
	drop := n.drop
	n.mu.RUnlock()

	if !ok || (drop != nil && drop(from, to, data)) {
		return
	}
	dst.enqueue(types.Packet{From: from, Data: append([]byte(nil), data...)})
}

func (n *Network) remove(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// ============================================================================
//                              Transport
// ============================================================================

// Transport 模拟网络上的端点
type Transport struct {
	net   *Network
	local netip.AddrPort

	mu      sync.RWMutex
	closed  bool
	packets chan types.Packet
}

// Send 发送数据包，目标不存在时静默丢弃
func (t *Transport) Send(ctx context.Context, to netip.AddrPort, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > transport.MaxPacketSize {
		return transport.ErrPacketTooLarge
	}
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return transport.ErrClosed
	}
	t.net.deliver(t.local, to, data)
	return nil
}

func (t *Transport) enqueue(pkt types.Packet) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.packets <- pkt:
	default:
	}
}

// Packets 返回入站数据包通道
func (t *Transport) Packets() <-chan types.Packet {
	return t.packets
}

// LocalAddr 返回端点地址
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.local
}

// Close 关闭端点
func (t *Transport) Close() error {
	t.net.remove(t.local)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.packets)
	}
	return nil
}
