package reachability

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

type fakeUpdater struct {
	mu        sync.Mutex
	seq       uint64
	updates   []netip.AddrPort
	retracts  int
	updateErr error
}

func (u *fakeUpdater) UpdateEndpoint(addr netip.AddrPort) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.updateErr != nil {
		return 0, u.updateErr
	}
	u.seq++
	u.updates = append(u.updates, addr)
	return u.seq, nil
}

func (u *fakeUpdater) RetractEndpoint() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.retracts++
	return nil
}

func (u *fakeUpdater) snapshot() ([]netip.AddrPort, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]netip.AddrPort, len(u.updates))
	copy(out, u.updates)
	return out, u.retracts
}

func testMonitorConfig(mock *clock.Mock) Config {
	return Config{
		EnrUpdate:       true,
		VoteDuration:    2 * time.Minute,
		MinVotes:        3,
		ListenDuration:  5 * time.Minute,
		RetractCooldown: time.Hour,
		Clock:           mock,
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) add(e types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type())
	}
	return out
}

// ============================================================================
// 投票应用
// ============================================================================

// TestMonitor_UpdateExactlyOnce 多数地址只应用一次
func TestMonitor_UpdateExactlyOnce(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{}
	m := NewMonitor(testMonitorConfig(mock), up, netip.AddrPort{})
	events := &eventLog{}
	m.SetEventSink(events.add)

	for i := byte(1); i <= 2; i++ {
		changed, err := m.Vote(voter(i), addrA)
		require.NoError(t, err)
		assert.False(t, changed, "票数不足")
	}
	assert.Equal(t, StateUnknown, m.State())

	changed, err := m.Vote(voter(3), addrA)
	require.NoError(t, err)
	assert.True(t, changed)

	for i := byte(1); i <= 10; i++ {
		changed, err = m.Vote(voter(i), addrA)
		require.NoError(t, err)
		assert.False(t, changed, "重复投票幂等")
	}

	updates, _ := up.snapshot()
	assert.Equal(t, []netip.AddrPort{addrA}, updates)
	assert.Equal(t, addrA, m.Advertised())
	assert.Equal(t, StateAdvertised, m.State())
	assert.Equal(t, []string{types.EventTypeSocketUpdated}, events.kinds())

	t.Log("✅ 外部地址只更新一次")
}

// TestMonitor_InitialAddressNotReapplied 与当前记录相同的多数地址不触发更新
func TestMonitor_InitialAddressNotReapplied(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{}
	m := NewMonitor(testMonitorConfig(mock), up, addrA)

	for i := byte(1); i <= 5; i++ {
		_, err := m.Vote(voter(i), addrA)
		require.NoError(t, err)
	}
	updates, _ := up.snapshot()
	assert.Empty(t, updates)
}

// TestMonitor_AddressChange 多数地址变化时再次更新
func TestMonitor_AddressChange(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{}
	m := NewMonitor(testMonitorConfig(mock), up, netip.AddrPort{})

	for i := byte(1); i <= 3; i++ {
		_, _ = m.Vote(voter(i), addrA)
	}
	mock.Add(3 * time.Minute)
	for i := byte(4); i <= 6; i++ {
		_, _ = m.Vote(voter(i), addrB)
	}

	updates, _ := up.snapshot()
	assert.Equal(t, []netip.AddrPort{addrA, addrB}, updates)
}

// TestMonitor_UpdatesDisabled 关闭记录更新时只计票
func TestMonitor_UpdatesDisabled(t *testing.T) {
	mock := clock.NewMock()
	cfg := testMonitorConfig(mock)
	cfg.EnrUpdate = false
	up := &fakeUpdater{}
	m := NewMonitor(cfg, up, netip.AddrPort{})

	for i := byte(1); i <= 5; i++ {
		changed, err := m.Vote(voter(i), addrA)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	v4, _ := m.Majority()
	assert.Equal(t, addrA, v4)
	updates, _ := up.snapshot()
	assert.Empty(t, updates)
}

// TestMonitor_UpdaterError 更新失败不改变状态
func TestMonitor_UpdaterError(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{updateErr: errors.New("boom")}
	cfg := testMonitorConfig(mock)
	cfg.MinVotes = 1
	m := NewMonitor(cfg, up, netip.AddrPort{})

	_, err := m.Vote(voter(1), addrA)
	assert.Error(t, err)
	assert.Equal(t, StateUnknown, m.State())
	assert.False(t, m.Advertised().IsValid())

	m2 := NewMonitor(cfg, nil, netip.AddrPort{})
	_, err = m2.Vote(voter(1), addrA)
	assert.ErrorIs(t, err, ErrNoUpdater)
}

// ============================================================================
// 可达性推断
// ============================================================================

func advertise(t *testing.T, m *Monitor) {
	t.Helper()
	for i := byte(1); i <= 3; i++ {
		_, err := m.Vote(voter(i), addrA)
		require.NoError(t, err)
	}
	require.Equal(t, StateAdvertised, m.State())
}

// TestMonitor_ReachableOnIncoming 监听窗口内出现入站会话则可达
func TestMonitor_ReachableOnIncoming(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{}
	m := NewMonitor(testMonitorConfig(mock), up, netip.AddrPort{})
	advertise(t, m)

	mock.Add(time.Minute)
	m.OnIncomingSession()
	assert.Equal(t, StateReachable, m.State())

	mock.Add(time.Hour)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateReachable, m.State())
	_, retracts := up.snapshot()
	assert.Zero(t, retracts)
}

// TestMonitor_RetractAndReadvertise 无入站会话则撤回，冷却后重新发布
func TestMonitor_RetractAndReadvertise(t *testing.T) {
	mock := clock.NewMock()
	up := &fakeUpdater{}
	m := NewMonitor(testMonitorConfig(mock), up, netip.AddrPort{})
	events := &eventLog{}
	m.SetEventSink(events.add)
	advertise(t, m)

	mock.Add(4 * time.Minute)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateAdvertised, m.State(), "窗口未结束")

	mock.Add(time.Minute)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateRetracted, m.State())
	_, retracts := up.snapshot()
	assert.Equal(t, 1, retracts)

	changed, err := m.Vote(voter(9), addrB)
	require.NoError(t, err)
	assert.False(t, changed, "撤回期间不更新")

	mock.Add(59 * time.Minute)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateRetracted, m.State())

	mock.Add(time.Minute)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateAdvertised, m.State())

	updates, _ := up.snapshot()
	assert.Equal(t, []netip.AddrPort{addrA, addrA}, updates)
	assert.Equal(t, []string{
		types.EventTypeSocketUpdated,
		types.EventTypeAddressRetracted,
		types.EventTypeSocketUpdated,
	}, events.kinds())

	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, StateUnknown, history[0].From)
	assert.Equal(t, StateRetracted, history[1].To)
	assert.Equal(t, StateAdvertised, history[2].To)

	t.Log("✅ 撤回与重新发布正确")
}

// TestMonitor_ListenDisabled 监听时长为 0 时不推断
func TestMonitor_ListenDisabled(t *testing.T) {
	mock := clock.NewMock()
	cfg := testMonitorConfig(mock)
	cfg.ListenDuration = 0
	up := &fakeUpdater{}
	m := NewMonitor(cfg, up, netip.AddrPort{})
	advertise(t, m)

	mock.Add(24 * time.Hour)
	require.NoError(t, m.Tick())
	assert.Equal(t, StateAdvertised, m.State())
}

// TestMonitor_Run 周期推进
func TestMonitor_Run(t *testing.T) {
	mock := clock.NewMock()
	cfg := testMonitorConfig(mock)
	cfg.RetractCooldown = 1000 * time.Hour
	up := &fakeUpdater{}
	m := NewMonitor(cfg, up, netip.AddrPort{})
	advertise(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Minute) }()

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return m.State() == StateRetracted
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "reachable", StateReachable.String())
	assert.Equal(t, "invalid", State(42).String())
}
