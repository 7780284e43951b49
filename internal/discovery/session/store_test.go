package session

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/pkg/types"
)

type closeRecord struct {
	addr   types.NodeAddress
	reason string
}

type closeLog struct {
	mu      sync.Mutex
	entries []closeRecord
}

func (c *closeLog) hook(s *Session, reason string, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, closeRecord{addr: s.Addr(), reason: reason})
}

func (c *closeLog) all() []closeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]closeRecord(nil), c.entries...)
}

func testAddr(b byte) types.NodeAddress {
	return types.NodeAddress{ID: types.NodeID{b}, Addr: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, b}), 9000)}
}

// TestStore_LRU 容量满时驱逐最久未活跃的会话
func TestStore_LRU(t *testing.T) {
	log := &closeLog{}
	st, err := NewStore(2, time.Hour, time.Second, clock.NewMock(), log.hook)
	require.NoError(t, err)

	_, created, evicted := st.GetOrCreate(testAddr(1))
	assert.True(t, created)
	assert.False(t, evicted)
	st.GetOrCreate(testAddr(2))

	_, ok := st.Get(testAddr(1))
	require.True(t, ok)

	_, created, evicted = st.GetOrCreate(testAddr(3))
	assert.True(t, created)
	assert.True(t, evicted)

	_, ok = st.Peek(testAddr(2))
	assert.False(t, ok, "最久未活跃的会话被驱逐")
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, []closeRecord{{testAddr(2), ReasonEvicted}}, log.all())

	s, created, _ := st.GetOrCreate(testAddr(1))
	assert.False(t, created)
	assert.Equal(t, testAddr(1), s.Addr())

	t.Log("✅ LRU 驱逐正确")
}

// TestStore_Sweep 过期会话在清理时移除
func TestStore_Sweep(t *testing.T) {
	mock := clock.NewMock()
	log := &closeLog{}
	st, err := NewStore(10, time.Hour, time.Second, mock, log.hook)
	require.NoError(t, err)

	established, _, _ := st.GetOrCreate(testAddr(1))
	established.mu.Lock()
	established.state = StateEstablished
	established.mu.Unlock()
	pending, _, _ := st.GetOrCreate(testAddr(2))

	mock.Add(2 * time.Second)
	assert.Equal(t, 1, st.Sweep(), "握手超时的会话先过期")
	assert.Equal(t, StateExpired, pending.State())

	mock.Add(time.Hour)
	assert.Equal(t, 1, st.Sweep())
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, []closeRecord{
		{testAddr(2), ReasonExpired},
		{testAddr(1), ReasonExpired},
	}, log.all())
}

// TestStore_Remove 主动移除只触发一次回调
func TestStore_Remove(t *testing.T) {
	log := &closeLog{}
	st, err := NewStore(10, time.Hour, time.Second, nil, log.hook)
	require.NoError(t, err)

	st.GetOrCreate(testAddr(1))
	assert.True(t, st.Remove(testAddr(1), ReasonRemoved))
	assert.False(t, st.Remove(testAddr(1), ReasonRemoved))
	assert.Equal(t, []closeRecord{{testAddr(1), ReasonRemoved}}, log.all())
}

func TestNewStore_Invalid(t *testing.T) {
	_, err := NewStore(0, time.Hour, time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "challenge_sent", StateChallengeSent.String())
	assert.Equal(t, "unknown", State(99).String())
}
