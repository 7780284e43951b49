package reachability

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("core/reachability")

// ============================================================================
//                              状态定义
// ============================================================================

// State 可达性状态
type State int

const (
	// StateUnknown 尚未通过投票发布地址
	StateUnknown State = iota

	// StateAdvertised 已发布地址，正在等待入站会话
	StateAdvertised

	// StateReachable 发布后观察到入站会话
	StateReachable

	// StateRetracted 推断不可达，地址已撤回
	StateRetracted
)

// String 返回状态字符串
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAdvertised:
		return "advertised"
	case StateReachable:
		return "reachable"
	case StateRetracted:
		return "retracted"
	default:
		return "invalid"
	}
}

// StateTransition 状态转换记录
type StateTransition struct {
	From      State
	To        State
	Addr      netip.AddrPort
	Timestamp time.Time
}

// RecordUpdater 本地记录更新器
//
// 在 Monitor 的锁内调用，实现不得回调 Monitor。
type RecordUpdater interface {
	// UpdateEndpoint 将本地记录端点更新为 addr 并重新签名，返回新序号
	UpdateEndpoint(addr netip.AddrPort) (uint64, error)

	// RetractEndpoint 从本地记录中撤回端点
	RetractEndpoint() error
}

// Config 监视器配置
type Config struct {
	// EnrUpdate 多数地址变化时是否更新本地记录
	EnrUpdate bool

	// VoteDuration 投票有效期
	VoteDuration time.Duration

	// MinVotes 多数所需的最少不同投票者
	MinVotes int

	// ListenDuration 发布后等待入站会话的时间，0 表示禁用推断
	ListenDuration time.Duration

	// RetractCooldown 撤回后重新发布前的冷却时间
	RetractCooldown time.Duration

	// Clock 时钟
	Clock clock.Clock
}

// ============================================================================
//                              Monitor
// ============================================================================

// Monitor 可达性监视器
type Monitor struct {
	cfg     Config
	clock   clock.Clock
	votes   *IPVote
	updater RecordUpdater

	mu      sync.Mutex
	state   State
	applied netip.AddrPort
	since   time.Time
	history []StateTransition
	emit    func(types.Event)
}

// NewMonitor 创建监视器
//
// initial 为本地记录当前声明的端点，与其相同的多数地址不会触发更新。
func NewMonitor(cfg Config, updater RecordUpdater, initial netip.AddrPort) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Monitor{
		cfg:     cfg,
		clock:   cfg.Clock,
		votes:   NewIPVote(cfg.MinVotes, cfg.VoteDuration),
		updater: updater,
		applied: initial,
		since:   cfg.Clock.Now(),
	}
}

// SetEventSink 设置事件输出
func (m *Monitor) SetEventSink(emit func(types.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit = emit
}

// State 返回当前状态
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Advertised 返回最近一次应用的外部地址
func (m *Monitor) Advertised() netip.AddrPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

// History 返回状态转换历史
func (m *Monitor) History() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StateTransition, len(m.history))
	copy(out, m.history)
	return out
}

// Majority 返回当前多数地址
func (m *Monitor) Majority() (v4, v6 netip.AddrPort) {
	return m.votes.Majority(m.clock.Now())
}

func (m *Monitor) transitionLocked(to State, addr netip.AddrPort, now time.Time) {
	m.history = append(m.history, StateTransition{From: m.state, To: to, Addr: addr, Timestamp: now})
	logger.Debug("可达性状态变化", "from", m.state, "to", to, "addr", addr)
	m.state = to
	m.since = now
}

// ============================================================================
//                              事件处理
// ============================================================================

// Vote 记录一次来自已验证响应的外部地址观察
//
// 返回本地记录是否因此更新。
func (m *Monitor) Vote(voter types.NodeID, observed netip.AddrPort) (bool, error) {
	now := m.clock.Now()
	m.votes.Insert(voter, observed, now)
	if !m.cfg.EnrUpdate {
		return false, nil
	}

	v4, v6 := m.votes.Majority(now)
	majority := v4
	if !majority.IsValid() {
		majority = v6
	}
	if !majority.IsValid() {
		return false, nil
	}

	var event types.Event
	m.mu.Lock()
	if majority == m.applied || m.state == StateRetracted {
		m.mu.Unlock()
		return false, nil
	}
	seq, err := m.applyLocked(majority, now)
	if err == nil {
		event = &types.EventSocketUpdated{
			BaseEvent: types.NewBaseEvent(types.EventTypeSocketUpdated, now),
			Addr:      majority,
			Seq:       seq,
		}
	}
	emit := m.emit
	m.mu.Unlock()

	if err != nil {
		return false, err
	}
	logger.Info("外部地址已更新", "addr", majority, "seq", seq)
	if emit != nil {
		emit(event)
	}
	return true, nil
}

func (m *Monitor) applyLocked(addr netip.AddrPort, now time.Time) (uint64, error) {
	if m.updater == nil {
		return 0, ErrNoUpdater
	}
	seq, err := m.updater.UpdateEndpoint(addr)
	if err != nil {
		return 0, err
	}
	m.applied = addr
	m.transitionLocked(StateAdvertised, addr, now)
	return seq, nil
}

// OnIncomingSession 观察到一个入站会话
func (m *Monitor) OnIncomingSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAdvertised {
		m.transitionLocked(StateReachable, m.applied, m.clock.Now())
	}
}

// Tick 推进监听窗口与冷却计时
func (m *Monitor) Tick() error {
	if m.cfg.ListenDuration <= 0 {
		return nil
	}
	now := m.clock.Now()

	var event types.Event
	m.mu.Lock()
	switch m.state {
	case StateAdvertised:
		if now.Sub(m.since) < m.cfg.ListenDuration {
			break
		}
		if m.updater == nil {
			m.mu.Unlock()
			return ErrNoUpdater
		}
		if err := m.updater.RetractEndpoint(); err != nil {
			m.mu.Unlock()
			return err
		}
		m.transitionLocked(StateRetracted, m.applied, now)
		until := now.Add(m.cfg.RetractCooldown)
		logger.Warn("未观察到入站会话，撤回外部地址", "addr", m.applied, "until", until)
		event = &types.EventAddressRetracted{
			BaseEvent: types.NewBaseEvent(types.EventTypeAddressRetracted, now),
			Addr:      m.applied,
			Until:     until,
		}
	case StateRetracted:
		if now.Sub(m.since) < m.cfg.RetractCooldown {
			break
		}
		addr := m.applied
		if v4, v6 := m.votes.Majority(now); v4.IsValid() {
			addr = v4
		} else if v6.IsValid() {
			addr = v6
		}
		seq, err := m.applyLocked(addr, now)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		logger.Info("冷却结束，重新发布外部地址", "addr", addr)
		event = &types.EventSocketUpdated{
			BaseEvent: types.NewBaseEvent(types.EventTypeSocketUpdated, now),
			Addr:      addr,
			Seq:       seq,
		}
	}
	emit := m.emit
	m.mu.Unlock()

	if event != nil && emit != nil {
		emit(event)
	}
	return nil
}

// Run 周期调用 Tick，直到 ctx 取消
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if m.cfg.ListenDuration <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				logger.Warn("可达性检查失败", "err", err)
			}
		}
	}
}
