package udp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/internal/core/transport"
)

// TestTransport_SendReceive 两个 UDP 端点互发数据包
func TestTransport_SendReceive(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	require.NotZero(t, a.LocalAddr().Port())
	require.NoError(t, a.Send(context.Background(), b.LocalAddr(), []byte("hello")))

	select {
	case pkt := <-b.Packets():
		assert.Equal(t, []byte("hello"), pkt.Data)
		assert.Equal(t, a.LocalAddr(), pkt.From)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到数据包")
	}

	t.Log("✅ UDP 收发正确")
}

// TestTransport_Errors 错误路径
func TestTransport_Errors(t *testing.T) {
	_, err := Listen("bogus")
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	big := make([]byte, transport.MaxPacketSize+1)
	assert.ErrorIs(t, a.Send(context.Background(), a.LocalAddr(), big), transport.ErrPacketTooLarge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Send(ctx, a.LocalAddr(), []byte("x")), context.Canceled)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "重复关闭")
	assert.ErrorIs(t, a.Send(context.Background(), a.LocalAddr(), []byte("x")), transport.ErrClosed)

	_, open := <-a.Packets()
	assert.False(t, open, "关闭后通道关闭")
}
