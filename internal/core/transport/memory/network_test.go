package memory

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/internal/core/transport"
)

func recv(t *testing.T, tr *Transport) ([]byte, netip.AddrPort) {
	t.Helper()
	select {
	case pkt := <-tr.Packets():
		return pkt.Data, pkt.From
	case <-time.After(time.Second):
		t.Fatal("未收到数据包")
		return nil, netip.AddrPort{}
	}
}

// TestNetwork_Delivery 端点间投递
func TestNetwork_Delivery(t *testing.T) {
	n := NewNetwork()
	a, err := n.Listen(netip.AddrPort{})
	require.NoError(t, err)
	b, err := n.Listen(netip.AddrPort{})
	require.NoError(t, err)
	assert.NotEqual(t, a.LocalAddr(), b.LocalAddr())
	assert.Equal(t, 2, n.Len())

	msg := []byte("ping")
	require.NoError(t, a.Send(context.Background(), b.LocalAddr(), msg))
	msg[0] = 'x'

	data, from := recv(t, b)
	assert.Equal(t, []byte("ping"), data, "投递副本")
	assert.Equal(t, a.LocalAddr(), from)

	unknown := netip.MustParseAddrPort("192.0.2.1:1")
	assert.NoError(t, a.Send(context.Background(), unknown, msg), "未知目标静默丢弃")

	t.Log("✅ 模拟网络投递正确")
}

// TestNetwork_Drop 丢包规则
func TestNetwork_Drop(t *testing.T) {
	n := NewNetwork()
	a, _ := n.Listen(netip.AddrPort{})
	b, _ := n.Listen(netip.AddrPort{})

	n.SetDropFunc(func(from, to netip.AddrPort, data []byte) bool {
		return string(data) == "lost"
	})
	require.NoError(t, a.Send(context.Background(), b.LocalAddr(), []byte("lost")))
	require.NoError(t, a.Send(context.Background(), b.LocalAddr(), []byte("kept")))

	data, _ := recv(t, b)
	assert.Equal(t, []byte("kept"), data)
}

// TestNetwork_ListenErrors 地址冲突与关闭
func TestNetwork_ListenErrors(t *testing.T) {
	n := NewNetwork()
	addr := netip.MustParseAddrPort("10.1.2.3:30303")
	a, err := n.Listen(addr)
	require.NoError(t, err)

	_, err = n.Listen(addr)
	assert.ErrorIs(t, err, transport.ErrAddressInUse)
	_, err = n.Listen(netip.MustParseAddrPort("10.1.2.4:0"))
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(context.Background(), addr, []byte("x")), transport.ErrClosed)

	b, err := n.Listen(addr)
	require.NoError(t, err, "关闭后地址可复用")
	defer b.Close()
}
