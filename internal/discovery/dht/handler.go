package dht

import (
	"context"
	"fmt"
	"net/netip"
	"slices"

	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/internal/discovery/rpc"
	"github.com/Golem-Base/discv5/internal/discovery/session"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              入站请求
// ============================================================================

// handleMessage 会话层解密后的消息交给请求引擎
func (s *Service) handleMessage(from types.NodeAddress, msg []byte) {
	s.engine.HandleMessage(from, msg)
}

// handleRequest 处理 PING 与 FINDNODE
func (s *Service) handleRequest(from types.NodeAddress, req rpc.Message) []rpc.Message {
	switch m := req.(type) {
	case *rpc.Ping:
		s.checkPeerSeq(from, m.Seq)
		return []rpc.Message{&rpc.Pong{
			ID:       m.ID,
			Seq:      s.local.Seq(),
			Observed: from.Addr,
		}}

	case *rpc.FindNode:
		records := s.nodesAtDistances(m.Distances)
		logger.Debug("响应 FINDNODE", "from", from, "distances", m.Distances, "records", len(records))
		packets := rpc.SplitNodes(m.ID, records, session.MaxMessageSize)
		out := make([]rpc.Message, 0, len(packets))
		for _, p := range packets {
			out = append(out, p)
		}
		return out

	default:
		logger.Debug("忽略未知请求", "type", req.Type(), "from", from)
		return nil
	}
}

// nodesAtDistances 返回请求距离上的记录，距离 0 为本地记录
func (s *Service) nodesAtDistances(distances []uint) []*types.Record {
	limit := s.cfg.MaxNodesResponse
	var out []*types.Record
	if slices.Contains(distances, 0) {
		out = append(out, s.local.Record())
	}
	if len(out) < limit {
		out = append(out, s.table.NodesAtDistances(distances, limit-len(out))...)
	}
	return out
}

// ============================================================================
//                              PING / PONG
// ============================================================================

// Ping 向 rec 发送 PING
//
// PONG 中观察到的端点计入外部地址投票；对端序号更高时异步刷新其记录。
func (s *Service) Ping(ctx context.Context, rec *types.Record) (*rpc.Pong, error) {
	contact, err := s.contactFor(rec)
	if err != nil {
		return nil, err
	}
	return s.ping(ctx, contact)
}

func (s *Service) ping(ctx context.Context, contact types.NodeContact) (*rpc.Pong, error) {
	pong, err := s.engine.Ping(ctx, contact, s.local.Seq())
	if err != nil {
		return nil, err
	}
	s.handlePong(contact, pong)
	return pong, nil
}

func (s *Service) handlePong(contact types.NodeContact, pong *rpc.Pong) {
	if pong.Observed.IsValid() {
		changed, err := s.monitor.Vote(contact.ID, pong.Observed)
		if err != nil {
			logger.Warn("应用外部地址失败", "observed", pong.Observed, "err", err)
		} else if changed {
			logger.Info("本地记录端点已更新", "addr", pong.Observed, "seq", s.local.Seq())
		}
	}
	s.checkPeerSeq(contact.Address(), pong.Seq)
}

// checkPeerSeq 对端声明的序号高于已知记录时异步刷新
func (s *Service) checkPeerSeq(from types.NodeAddress, seq uint64) {
	e, ok := s.table.Get(from.ID)
	if !ok || e.Record.Seq >= seq {
		return
	}
	s.refreshMu.Lock()
	if _, busy := s.refreshing[from.ID]; busy {
		s.refreshMu.Unlock()
		return
	}
	s.refreshing[from.ID] = struct{}{}
	s.refreshMu.Unlock()

	contact := types.NodeContact{ID: from.ID, Addr: from.Addr, Record: e.Record}
	s.goAsync(func(ctx context.Context) {
		defer func() {
			s.refreshMu.Lock()
			delete(s.refreshing, from.ID)
			s.refreshMu.Unlock()
		}()
		if _, err := s.requestRecord(ctx, contact); err != nil {
			logger.Debug("刷新对端记录失败", "peer", from, "err", err)
		}
	})
}

// ============================================================================
//                              记录
// ============================================================================

// RequestRecord 通过 FINDNODE(0) 请求对端的最新记录
func (s *Service) RequestRecord(ctx context.Context, contact types.NodeContact) (*types.Record, error) {
	return s.requestRecord(ctx, contact)
}

func (s *Service) requestRecord(ctx context.Context, contact types.NodeContact) (*types.Record, error) {
	records, err := s.engine.FindNode(ctx, contact, []uint{0})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID != contact.ID {
			continue
		}
		if e, ok := s.table.Get(rec.ID); ok && rec.Supersedes(e.Record) {
			if res := s.table.InsertOrUpdate(rec, e.Status, netip.AddrPort{}); res.Changed() {
				s.persist(rec)
			}
		}
		return rec, nil
	}
	return nil, &DHTError{Op: "request record", Peer: contact.ID, Err: ErrRecordNotFound}
}

// AddRecord 校验并加入一条已知记录（如引导节点）
//
// 新记录以断开状态加入，首次联系成功后转为已连接。
func (s *Service) AddRecord(rec *types.Record) error {
	if err := s.deps.Verifier.VerifyRecord(rec); err != nil {
		return &DHTError{Op: "add record", Peer: rec.ID, Err: err}
	}
	if res := s.insert(rec, kbucket.DisconnectedOutgoing, netip.AddrPort{}); res.Rejected() {
		return &DHTError{Op: "add record", Peer: rec.ID, Err: fmt.Errorf("%w: %s", ErrRejected, res)}
	}
	return nil
}

// insert 写入路由表并在新增时产生事件、持久化
func (s *Service) insert(rec *types.Record, status kbucket.Status, source netip.AddrPort) kbucket.InsertResult {
	res := s.table.InsertOrUpdate(rec, status, source)
	switch {
	case res == kbucket.Inserted:
		s.metrics.SetTableSize(s.table.Len())
		s.emit(&types.EventNodeInserted{
			BaseEvent: types.NewBaseEvent(types.EventTypeNodeInserted, s.clock.Now()),
			ID:        rec.ID,
			Incoming:  status.IsIncoming(),
		})
		s.persist(rec)
	case res == kbucket.Updated:
		s.persist(rec)
	case res.Rejected():
		logger.Debug("路由表拒绝节点", "id", rec.ID.ShortString(), "result", res)
	}
	return res
}

func (s *Service) persist(rec *types.Record) {
	if s.deps.NodeDB == nil {
		return
	}
	if err := s.deps.NodeDB.Put(rec); err != nil {
		logger.Debug("保存节点记录失败", "id", rec.ID.ShortString(), "err", err)
	}
}
