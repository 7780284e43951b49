package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Golem-Base/discv5/pkg/types"
)

// 会话关闭原因
const (
	ReasonExpired         = "expired"
	ReasonEvicted         = "evicted"
	ReasonRemoved         = "removed"
	ReasonHandshakeFailed = "handshake_failed"
)

// CloseHook 会话离开缓存时调用
//
// 调用时不持有会话锁，实现不得回调 Store。
type CloseHook func(s *Session, reason string, wasEstablished bool)

// ============================================================================
//                              Store
// ============================================================================

// Store 会话缓存
//
// 容量满时驱逐最久未活跃的会话；过期会话在 Sweep 时移除。
type Store struct {
	clock            clock.Clock
	timeout          time.Duration
	handshakeTimeout time.Duration
	hook             CloseHook

	// mu 串行化创建与删除，Get 不需要
	mu    sync.Mutex
	cache *lru.Cache[types.NodeAddress, *Session]
}

// NewStore 创建会话缓存
func NewStore(capacity int, timeout, handshakeTimeout time.Duration, clk clock.Clock, hook CloseHook) (*Store, error) {
	if capacity <= 0 || timeout <= 0 || handshakeTimeout <= 0 {
		return nil, fmt.Errorf("%w: capacity %d timeout %s handshake timeout %s",
			ErrInvalidConfig, capacity, timeout, handshakeTimeout)
	}
	if clk == nil {
		clk = clock.New()
	}
	st := &Store{
		clock:            clk,
		timeout:          timeout,
		handshakeTimeout: handshakeTimeout,
		hook:             hook,
	}
	cache, err := lru.NewWithEvict(capacity, func(_ types.NodeAddress, s *Session) {
		st.closed(s, ReasonEvicted)
	})
	if err != nil {
		return nil, err
	}
	st.cache = cache
	return st, nil
}

func (st *Store) closed(s *Session, reason string) {
	first, wasEstablished, r := s.markClosed(reason)
	if first && st.hook != nil {
		st.hook(s, r, wasEstablished)
	}
}

// Get 返回会话并刷新其 LRU 位置
func (st *Store) Get(addr types.NodeAddress) (*Session, bool) {
	return st.cache.Get(addr)
}

// Peek 返回会话，不影响 LRU 顺序
func (st *Store) Peek(addr types.NodeAddress) (*Session, bool) {
	return st.cache.Peek(addr)
}

// GetOrCreate 返回已有会话或创建新会话
//
// evicted 表示创建时驱逐了最久未活跃的会话。
func (st *Store) GetOrCreate(addr types.NodeAddress) (s *Session, created, evicted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.cache.Get(addr); ok {
		return s, false, false
	}
	s = newSession(addr, st.clock.Now())
	evicted = st.cache.Add(addr, s)
	return s, true, evicted
}

// Remove 移除会话
func (st *Store) Remove(addr types.NodeAddress, reason string) bool {
	st.mu.Lock()
	s, ok := st.cache.Peek(addr)
	if ok {
		s.setCloseReason(reason)
		st.cache.Remove(addr)
	}
	st.mu.Unlock()

	if ok {
		st.closed(s, reason)
	}
	return ok
}

// removeIf 仅当缓存中仍是 s 时移除
func (st *Store) removeIf(s *Session, reason string) bool {
	st.mu.Lock()
	cur, ok := st.cache.Peek(s.addr)
	ok = ok && cur == s
	if ok {
		s.setCloseReason(reason)
		st.cache.Remove(s.addr)
	}
	st.mu.Unlock()

	if ok {
		st.closed(s, reason)
	}
	return ok
}

// Sweep 移除所有过期会话，返回移除数量
func (st *Store) Sweep() int {
	now := st.clock.Now()
	removed := 0
	for _, addr := range st.cache.Keys() {
		s, ok := st.cache.Peek(addr)
		if !ok {
			continue
		}
		s.mu.Lock()
		expired := s.expiredLocked(now, st.timeout, st.handshakeTimeout)
		s.mu.Unlock()
		if expired && st.removeIf(s, ReasonExpired) {
			removed++
		}
	}
	return removed
}

// Len 返回会话数
func (st *Store) Len() int {
	return st.cache.Len()
}

// Addrs 返回所有会话键，按最久未活跃到最近排序
func (st *Store) Addrs() []types.NodeAddress {
	return st.cache.Keys()
}
