package query

import (
	"sort"
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              节点状态
// ============================================================================

// PeerState 查询中单个节点的状态
type PeerState int

const (
	// PeerNotContacted 尚未联系
	PeerNotContacted PeerState = iota
	// PeerWaiting 已发送请求，等待响应
	PeerWaiting
	// PeerUnresponsive 超过单节点超时，不再占用并发槽位；迟到响应仍会合并
	PeerUnresponsive
	// PeerFailed 请求失败
	PeerFailed
	// PeerSucceeded 已返回响应
	PeerSucceeded
)

// String 返回状态名称
func (s PeerState) String() string {
	switch s {
	case PeerNotContacted:
		return "not_contacted"
	case PeerWaiting:
		return "waiting"
	case PeerUnresponsive:
		return "unresponsive"
	case PeerFailed:
		return "failed"
	case PeerSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Action Next 返回的动作
type Action int

const (
	// ActionWaiting 等待响应或超时
	ActionWaiting Action = iota
	// ActionContact 联系返回的节点
	ActionContact
	// ActionFinished 查询结束
	ActionFinished
)

// String 返回动作名称
func (a Action) String() string {
	switch a {
	case ActionContact:
		return "contact"
	case ActionFinished:
		return "finished"
	default:
		return "waiting"
	}
}

type queryPeer struct {
	contact types.NodeContact
	state   PeerState
	sentAt  time.Time
}

// ============================================================================
//                              FindNodeQuery
// ============================================================================

// FindNodeQuery 迭代 FINDNODE 查询状态机
//
// 不做任何 I/O：调用方循环调用 Next 获取要联系的节点，
// 并通过 OnSuccess / OnFailure 回报结果。非并发安全，由单个事件循环拥有。
type FindNodeQuery struct {
	id     ID
	target types.NodeID
	cfg    Config

	// peers 按到 target 的距离升序
	peers   []*queryPeer
	index   map[types.NodeID]*queryPeer
	waiting int

	// stalled 最近一次成功响应未带来更近的节点
	stalled bool

	started    time.Time
	graceUntil time.Time
	finished   bool
}

// NewFindNodeQuery 创建查询
//
// seeds 通常来自路由表 FindClosest；为空时查询立即结束。
func NewFindNodeQuery(id ID, target types.NodeID, seeds []types.NodeContact, cfg Config, now time.Time) *FindNodeQuery {
	cfg = cfg.withDefaults()
	q := &FindNodeQuery{
		id:      id,
		target:  target,
		cfg:     cfg,
		index:   make(map[types.NodeID]*queryPeer),
		started: now,
	}
	q.addPeers(seeds)
	return q
}

// ID 返回查询 ID
func (q *FindNodeQuery) ID() ID {
	return q.id
}

// Target 返回查询目标
func (q *FindNodeQuery) Target() types.NodeID {
	return q.target
}

// Started 返回开始时间
func (q *FindNodeQuery) Started() time.Time {
	return q.started
}

// IsFinished 是否已结束
func (q *FindNodeQuery) IsFinished() bool {
	return q.finished
}

// PeerState 返回节点在查询中的状态
func (q *FindNodeQuery) PeerState(id types.NodeID) (PeerState, bool) {
	p, ok := q.index[id]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// addPeers 按距离插入新节点，返回是否有新节点比当前最近节点更近
func (q *FindNodeQuery) addPeers(contacts []types.NodeContact) bool {
	var closest *types.NodeID
	if len(q.peers) > 0 {
		id := q.peers[0].contact.ID
		closest = &id
	}
	progress := false
	for _, c := range contacts {
		if _, ok := q.index[c.ID]; ok {
			continue
		}
		p := &queryPeer{contact: c}
		q.index[c.ID] = p
		q.peers = append(q.peers, p)
		if closest == nil || types.Closer(q.target, c.ID, *closest) {
			progress = true
		}
	}
	sort.SliceStable(q.peers, func(i, j int) bool {
		return types.Closer(q.target, q.peers[i].contact.ID, q.peers[j].contact.ID)
	})
	return progress
}

// OnSuccess 节点返回了响应
//
// 等待中与已判定无响应的节点都会被接受；closer 中的新节点加入候选。
func (q *FindNodeQuery) OnSuccess(peer types.NodeID, closer []types.NodeContact) {
	if q.finished {
		return
	}
	p, ok := q.index[peer]
	if !ok {
		return
	}
	switch p.state {
	case PeerWaiting:
		q.waiting--
	case PeerUnresponsive:
	default:
		return
	}
	p.state = PeerSucceeded

	if !q.graceUntil.IsZero() {
		// 宽限期只合并迟到的节点本身，不再扩展候选
		return
	}
	q.stalled = !q.addPeers(closer)
}

// OnFailure 节点请求失败
func (q *FindNodeQuery) OnFailure(peer types.NodeID) {
	if q.finished {
		return
	}
	p, ok := q.index[peer]
	if !ok {
		return
	}
	switch p.state {
	case PeerWaiting:
		q.waiting--
		p.state = PeerFailed
	case PeerUnresponsive:
		p.state = PeerFailed
	}
}

// Next 推进查询并返回下一步动作
//
// 返回 ActionContact 时 contact 为要联系的节点，该节点已标记为等待中。
func (q *FindNodeQuery) Next(now time.Time) (Action, types.NodeContact) {
	if q.finished {
		return ActionFinished, types.NodeContact{}
	}
	if !q.graceUntil.IsZero() {
		if now.Before(q.graceUntil) && q.unresponsive() > 0 {
			return ActionWaiting, types.NodeContact{}
		}
		return q.finish()
	}

	parallelism := q.cfg.Parallelism
	if q.stalled {
		parallelism = q.cfg.NumResults
	}

	for _, p := range q.peers {
		if p.state == PeerWaiting && now.Sub(p.sentAt) >= q.cfg.PeerTimeout {
			p.state = PeerUnresponsive
			q.waiting--
		}
	}

	succeeded := 0
	pendingCloser := false
	for _, p := range q.peers {
		switch p.state {
		case PeerNotContacted:
			if q.waiting >= parallelism {
				return ActionWaiting, types.NodeContact{}
			}
			p.state = PeerWaiting
			p.sentAt = now
			q.waiting++
			return ActionContact, p.contact

		case PeerWaiting:
			if q.waiting >= parallelism {
				return ActionWaiting, types.NodeContact{}
			}
			pendingCloser = true

		case PeerSucceeded:
			succeeded++
			if succeeded >= q.cfg.NumResults && !pendingCloser {
				return q.complete(now)
			}
		}
	}

	if q.waiting > 0 {
		return ActionWaiting, types.NodeContact{}
	}
	return q.complete(now)
}

// complete 满足结束条件；MergeBeforeReturn 时先进入宽限期
func (q *FindNodeQuery) complete(now time.Time) (Action, types.NodeContact) {
	if q.cfg.LateReplyPolicy == MergeBeforeReturn && q.unresponsive() > 0 {
		q.graceUntil = now.Add(q.cfg.PeerTimeout)
		return ActionWaiting, types.NodeContact{}
	}
	return q.finish()
}

func (q *FindNodeQuery) finish() (Action, types.NodeContact) {
	q.finished = true
	return ActionFinished, types.NodeContact{}
}

// Finish 强制结束（整体超时或调用方取消）
func (q *FindNodeQuery) Finish() {
	q.finished = true
}

func (q *FindNodeQuery) unresponsive() int {
	n := 0
	for _, p := range q.peers {
		if p.state == PeerUnresponsive {
			n++
		}
	}
	return n
}

// Result 返回最近的 NumResults 个成功响应的节点，按距离升序
func (q *FindNodeQuery) Result() []types.NodeContact {
	out := make([]types.NodeContact, 0, q.cfg.NumResults)
	for _, p := range q.peers {
		if p.state != PeerSucceeded {
			continue
		}
		out = append(out, p.contact)
		if len(out) >= q.cfg.NumResults {
			break
		}
	}
	return out
}

// Stats 查询统计
type Stats struct {
	Known        int
	Succeeded    int
	Failed       int
	Unresponsive int
	Waiting      int
}

// Stats 返回当前统计
func (q *FindNodeQuery) Stats() Stats {
	s := Stats{Known: len(q.peers), Waiting: q.waiting}
	for _, p := range q.peers {
		switch p.state {
		case PeerSucceeded:
			s.Succeeded++
		case PeerFailed:
			s.Failed++
		case PeerUnresponsive:
			s.Unresponsive++
		}
	}
	return s
}
