// Package udp 基于 net.UDPConn 的数据报传输
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/Golem-Base/discv5/internal/core/transport"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("core/transport/udp")

// Transport UDP 传输
type Transport struct {
	conn    *net.UDPConn
	local   netip.AddrPort
	packets chan types.Packet

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Listen 在 addr（host:port）上监听
func Listen(addr string) (*Transport, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrInvalidAddress, addr)
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return New(conn, transport.DefaultQueueSize), nil
}

// New 包装已有连接并启动读循环
func New(conn *net.UDPConn, queueSize int) *Transport {
	if queueSize <= 0 {
		queueSize = transport.DefaultQueueSize
	}
	t := &Transport{
		conn:    conn,
		local:   conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		packets: make(chan types.Packet, queueSize),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer close(t.packets)

	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("读取数据包失败", "err", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		pkt := types.Packet{From: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), Data: data}

		select {
		case t.packets <- pkt:
		case <-t.done:
			return
		default:
			logger.Debug("入站队列已满，丢弃数据包", "from", from)
		}
	}
}

// Send 发送数据包
func (t *Transport) Send(ctx context.Context, to netip.AddrPort, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > transport.MaxPacketSize {
		return transport.ErrPacketTooLarge
	}
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}
	if _, err := t.conn.WriteToUDPAddrPort(data, to); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Packets 返回入站数据包通道，关闭后通道被关闭
func (t *Transport) Packets() <-chan types.Packet {
	return t.packets
}

// LocalAddr 返回本地监听地址
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.local
}

// Close 关闭传输
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}
