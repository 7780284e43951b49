package dht

import (
	"sync"

	"github.com/Golem-Base/discv5/pkg/types"
)

// DefaultSubscriptionBuffer 订阅通道默认容量
const DefaultSubscriptionBuffer = 64

// ============================================================================
//                              事件队列
// ============================================================================

// eventQueue 无界事件队列
//
// 会话层可能在缓存锁内产生事件，入队不得阻塞也不得回调组件。
type eventQueue struct {
	mu     sync.Mutex
	items  []types.Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev types.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// ============================================================================
//                              订阅
// ============================================================================

// Subscription 事件订阅
type Subscription struct {
	hub       *eventHub
	out       chan types.Event
	closeOnce sync.Once
}

// Out 返回事件通道，Close 后关闭
func (s *Subscription) Out() <-chan types.Event {
	return s.out
}

// Close 取消订阅，可多次调用
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
	})
	return nil
}

// eventHub 订阅者集合
//
// 订阅通道满时丢弃事件，慢订阅者不阻塞服务。
type eventHub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*Subscription]struct{})}
}

func (h *eventHub) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	s := &Subscription{hub: h, out: make(chan types.Event, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.out)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *eventHub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.out)
	}
}

func (h *eventHub) publish(ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.out <- ev:
		default:
			logger.Debug("订阅通道已满，丢弃事件", "type", ev.Type())
		}
	}
}

// close 关闭所有订阅
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.out)
	}
}
