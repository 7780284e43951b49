package dht

import (
	"context"
	"errors"
	"time"

	"github.com/Golem-Base/discv5/internal/discovery/query"
	"github.com/Golem-Base/discv5/pkg/types"
)

// 查询结果标签
const (
	queryOutcomeFinished  = "finished"
	queryOutcomeTimeout   = "timeout"
	queryOutcomeCancelled = "cancelled"
)

// lookup 一次迭代查询请求
type lookup struct {
	target  types.NodeID
	seeds   []types.NodeContact
	started time.Time
	done    chan lookupResult

	// id 仅由查询循环读写
	id query.ID
}

type lookupResult struct {
	contacts []types.NodeContact
	timedOut bool
	err      error
}

// peerReply 单个节点的 FINDNODE 结果
type peerReply struct {
	query  query.ID
	peer   types.NodeID
	closer []types.NodeContact
	failed bool
}

// ============================================================================
//                              公共接口
// ============================================================================

// FindNode 迭代查询距离 target 最近的节点
//
// 整体超时时返回已得到的部分结果且不报错。ctx 取消时查询立即从池中移除。
func (s *Service) FindNode(ctx context.Context, target types.NodeID) ([]*types.Record, error) {
	return s.findNode(ctx, target, false)
}

// FindNodeStrict 同 FindNode，但整体超时时返回部分结果与 ErrQueryTimeout
func (s *Service) FindNodeStrict(ctx context.Context, target types.NodeID) ([]*types.Record, error) {
	return s.findNode(ctx, target, true)
}

func (s *Service) findNode(ctx context.Context, target types.NodeID, strict bool) ([]*types.Record, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}

	var seeds []types.NodeContact
	for _, e := range s.table.FindClosest(target, s.cfg.Query.NumResults) {
		seeds = append(seeds, e.Contact())
	}
	l := &lookup{
		target:  target,
		seeds:   seeds,
		started: s.clock.Now(),
		done:    make(chan lookupResult, 1),
	}

	select {
	case s.lookups <- l:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.loopCtx.Done():
		return nil, ErrClosed
	}

	var r lookupResult
	select {
	case r = <-l.done:
	case <-ctx.Done():
		select {
		case s.cancels <- l:
		case <-s.loopCtx.Done():
		}
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}

	records := make([]*types.Record, 0, len(r.contacts))
	for _, c := range r.contacts {
		if c.Record != nil {
			records = append(records, c.Record)
		}
	}
	if r.timedOut && strict {
		return records, &DHTError{Op: "find node", Peer: target, Err: ErrQueryTimeout}
	}
	return records, nil
}

// ============================================================================
//                              查询循环
// ============================================================================

// queryLoop 独占查询池的事件循环
func (s *Service) queryLoop(ctx context.Context) error {
	pool := query.NewPool(s.cfg.Query)
	active := make(map[query.ID]*lookup)
	ticker := s.clock.Ticker(queryTickInterval)
	defer ticker.Stop()

	defer func() {
		for id, l := range active {
			delete(active, id)
			l.done <- lookupResult{err: ErrClosed}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case l := <-s.lookups:
			l.id = pool.Add(l.target, l.seeds, s.clock.Now())
			active[l.id] = l
			logger.Debug("开始查询", "query", l.id, "target", l.target.ShortString(), "seeds", len(l.seeds))

		case l := <-s.cancels:
			if active[l.id] == l {
				pool.Remove(l.id)
				delete(active, l.id)
				s.metrics.QueryFinished(queryOutcomeCancelled, s.clock.Since(l.started))
				logger.Debug("查询已取消", "query", l.id)
			}

		case r := <-s.replies:
			if r.failed {
				pool.OnFailure(r.query, r.peer)
			} else {
				pool.OnSuccess(r.query, r.peer, r.closer)
			}

		case <-ticker.C:
		}

		s.pollQueries(pool, active)
	}
}

// pollQueries 推进查询池并处理产生的事件
func (s *Service) pollQueries(pool *query.Pool, active map[query.ID]*lookup) {
	for _, ev := range pool.Poll(s.clock.Now()) {
		switch ev.Kind {
		case query.EventContact:
			id, target, contact := ev.Query, ev.Target, ev.Contact
			s.goAsync(func(ctx context.Context) {
				s.contactPeer(ctx, id, target, contact)
			})

		case query.EventFinished, query.EventTimeout:
			l, ok := active[ev.Query]
			if !ok {
				continue
			}
			delete(active, ev.Query)
			timedOut := ev.Kind == query.EventTimeout
			outcome := queryOutcomeFinished
			if timedOut {
				outcome = queryOutcomeTimeout
			}
			s.metrics.QueryFinished(outcome, s.clock.Since(l.started))
			logger.Debug("查询结束", "query", ev.Query, "outcome", outcome, "results", len(ev.Result))
			l.done <- lookupResult{contacts: ev.Result, timedOut: timedOut}
		}
	}
}

// contactPeer 向查询中的一个节点发送 FINDNODE 并回报结果
func (s *Service) contactPeer(ctx context.Context, id query.ID, target types.NodeID, contact types.NodeContact) {
	reply := peerReply{query: id, peer: contact.ID}

	records, err := s.engine.FindNode(ctx, contact, lookupDistances(target, contact.ID))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Debug("查询节点失败", "query", id, "peer", contact, "err", err)
		}
		reply.failed = true
	} else {
		local := s.LocalID()
		for _, rec := range records {
			if rec.ID == local {
				continue
			}
			c, ok := types.ContactFromRecord(rec)
			if !ok {
				continue
			}
			reply.closer = append(reply.closer, c)
			if s.cfg.ReportDiscoveredPeers {
				s.emit(&types.EventDiscovered{
					BaseEvent: types.NewBaseEvent(types.EventTypeDiscovered, s.clock.Now()),
					Record:    rec,
				})
			}
		}
	}

	select {
	case s.replies <- reply:
	case <-ctx.Done():
	}
}

// lookupDistances 返回向 peer 查询 target 时请求的对数距离
//
// 以 target 与 peer 的距离为中心，依次加入相邻距离。
func lookupDistances(target, peer types.NodeID) []uint {
	d := types.LogDistance(target, peer)
	if d == 0 {
		return []uint{0}
	}
	out := []uint{uint(d)}
	for delta := 1; len(out) < lookupDistanceCount && delta < types.NodeIDLength*8; delta++ {
		if d+delta <= types.NodeIDLength*8 {
			out = append(out, uint(d+delta))
		}
		if len(out) < lookupDistanceCount && d-delta > 0 {
			out = append(out, uint(d-delta))
		}
	}
	return out
}
