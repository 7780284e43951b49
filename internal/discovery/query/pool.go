package query

import (
	"slices"
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ID 查询 ID
type ID uint64

// EventKind Pool 事件类型
type EventKind int

const (
	// EventContact 需要向节点发送 FINDNODE
	EventContact EventKind = iota
	// EventFinished 查询正常结束
	EventFinished
	// EventTimeout 查询整体超时，Result 为当时的部分结果
	EventTimeout
)

// String 返回事件名称
func (k EventKind) String() string {
	switch k {
	case EventContact:
		return "contact"
	case EventFinished:
		return "finished"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event Pool 产生的事件
type Event struct {
	Kind    EventKind
	Query   ID
	Target  types.NodeID
	Contact types.NodeContact
	Result  []types.NodeContact
}

type poolEntry struct {
	query    *FindNodeQuery
	deadline time.Time
}

// ============================================================================
//                              Pool
// ============================================================================

// Pool 活跃查询集合，按 ID 索引
//
// 非并发安全，由服务的查询事件循环独占。结束、超时或被移除的查询
// 不再接受响应。
type Pool struct {
	cfg     Config
	next    ID
	queries map[ID]*poolEntry
}

// NewPool 创建查询池
func NewPool(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		queries: make(map[ID]*poolEntry),
	}
}

// Config 返回查询参数
func (p *Pool) Config() Config {
	return p.cfg
}

// Add 添加查询，返回其 ID
func (p *Pool) Add(target types.NodeID, seeds []types.NodeContact, now time.Time) ID {
	p.next++
	id := p.next
	p.queries[id] = &poolEntry{
		query:    NewFindNodeQuery(id, target, seeds, p.cfg, now),
		deadline: now.Add(p.cfg.Timeout),
	}
	return id
}

// Get 返回查询
func (p *Pool) Get(id ID) (*FindNodeQuery, bool) {
	e, ok := p.queries[id]
	if !ok {
		return nil, false
	}
	return e.query, true
}

// Remove 移除查询
func (p *Pool) Remove(id ID) bool {
	if _, ok := p.queries[id]; !ok {
		return false
	}
	delete(p.queries, id)
	return true
}

// Len 返回活跃查询数
func (p *Pool) Len() int {
	return len(p.queries)
}

// OnSuccess 回报节点响应，查询已不存在时返回 false
func (p *Pool) OnSuccess(id ID, peer types.NodeID, closer []types.NodeContact) bool {
	e, ok := p.queries[id]
	if !ok {
		return false
	}
	e.query.OnSuccess(peer, closer)
	return true
}

// OnFailure 回报节点失败，查询已不存在时返回 false
func (p *Pool) OnFailure(id ID, peer types.NodeID) bool {
	e, ok := p.queries[id]
	if !ok {
		return false
	}
	e.query.OnFailure(peer)
	return true
}

// Poll 推进所有查询，返回产生的事件
//
// 结束与超时的查询在返回前已从池中移除。
func (p *Pool) Poll(now time.Time) []Event {
	ids := make([]ID, 0, len(p.queries))
	for id := range p.queries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var events []Event
	for _, id := range ids {
		e := p.queries[id]
		q := e.query
		if !now.Before(e.deadline) {
			q.Finish()
			delete(p.queries, id)
			events = append(events, Event{Kind: EventTimeout, Query: id, Target: q.target, Result: q.Result()})
			continue
		}
	loop:
		for {
			action, contact := q.Next(now)
			switch action {
			case ActionContact:
				events = append(events, Event{Kind: EventContact, Query: id, Target: q.target, Contact: contact})
			case ActionFinished:
				delete(p.queries, id)
				events = append(events, Event{Kind: EventFinished, Query: id, Target: q.target, Result: q.Result()})
				break loop
			default:
				break loop
			}
		}
	}
	return events
}
