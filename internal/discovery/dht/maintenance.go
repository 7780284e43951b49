package dht

import (
	"context"
	"errors"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              数据包循环
// ============================================================================

// packetLoop 将入站数据包交给会话层
func (s *Service) packetLoop(ctx context.Context) error {
	packets := s.deps.Transport.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			if err := s.layer.HandlePacket(ctx, pkt); err != nil {
				logger.Debug("丢弃数据包", "from", pkt.From, "err", err)
			}
		}
	}
}

// ============================================================================
//                              事件循环
// ============================================================================

// eventLoop 处理会话与可达性事件并分发给订阅者
func (s *Service) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.events.signal:
			for _, ev := range s.events.drain() {
				s.handleEvent(ev)
				s.hub.publish(ev)
			}
		}
	}
}

func (s *Service) handleEvent(ev types.Event) {
	switch e := ev.(type) {
	case *types.EventSessionEstablished:
		s.onSessionEstablished(e)
	case *types.EventSessionClosed:
		s.onSessionClosed(e)
	}
}

// onSessionEstablished 握手完成后写入路由表
//
// 入站节点的记录端点须与数据包来源一致。
func (s *Service) onSessionEstablished(e *types.EventSessionEstablished) {
	status := kbucket.ConnectedOutgoing
	var source netip.AddrPort
	if e.Incoming {
		status = kbucket.ConnectedIncoming
		source = e.Addr
		s.monitor.OnIncomingSession()
	}
	s.insert(e.Record, status, source)

	// 新会话上的 PONG 提供外部地址投票
	if s.cfg.Reachability.EnrUpdate {
		contact := types.NodeContact{ID: e.Record.ID, Addr: e.Addr, Record: e.Record}
		s.goAsync(func(ctx context.Context) {
			if _, err := s.ping(ctx, contact); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug("新会话 PING 失败", "peer", contact, "err", err)
			}
		})
	}
}

// onSessionClosed 会话结束时释放未完成请求并标记节点断开
func (s *Service) onSessionClosed(e *types.EventSessionClosed) {
	s.engine.FailPeer(e.ID)
	s.markDisconnected(e.ID)
}

func (s *Service) markDisconnected(id types.NodeID) {
	entry, ok := s.table.Get(id)
	if !ok || !entry.Status.IsConnected() {
		return
	}
	s.table.UpdateStatus(id, kbucket.Status{Direction: entry.Status.Direction, State: kbucket.Disconnected})
}

// ============================================================================
//                              存活检查
// ============================================================================

// pingLoop 按 PingInterval 检查路由表中的节点
func (s *Service) pingLoop(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pingAll(ctx)
		}
	}
}

// pingAll PING 路由表中的所有节点
//
// 已连接节点无响应时标记为断开，已断开节点再次无响应时移出路由表。
func (s *Service) pingAll(ctx context.Context) {
	entries := s.table.Entries()
	logger.Debug("开始存活检查", "nodes", len(entries))

	var g errgroup.Group
	g.SetLimit(maxConcurrentPings)
	for _, e := range entries {
		g.Go(func() error {
			s.checkEntry(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	s.metrics.SetTableSize(s.table.Len())
}

func (s *Service) checkEntry(ctx context.Context, e kbucket.Entry) {
	_, err := s.ping(ctx, e.Contact())
	if err == nil || ctx.Err() != nil {
		return
	}
	if e.Status.IsConnected() {
		logger.Debug("节点无响应，标记为断开", "peer", e.ID().ShortString(), "err", err)
		s.markDisconnected(e.ID())
		return
	}
	if s.table.Remove(e.ID()) {
		logger.Debug("断开节点仍无响应，移出路由表", "peer", e.ID().ShortString())
	}
}

// ============================================================================
//                              种子
// ============================================================================

// loadSeeds 将引导节点与节点数据库中的记录加入路由表
func (s *Service) loadSeeds() {
	added := 0
	for _, rec := range s.deps.BootNodes {
		if err := s.AddRecord(rec); err != nil {
			logger.Warn("引导节点无效", "id", rec.ID.ShortString(), "err", err)
			continue
		}
		added++
	}

	if s.deps.NodeDB != nil && s.cfg.SeedCount > 0 {
		seeds, err := s.deps.NodeDB.Seeds(s.cfg.SeedCount)
		if err != nil {
			logger.Warn("读取节点数据库失败", "err", err)
		}
		for _, rec := range seeds {
			if err := s.AddRecord(rec); err == nil {
				added++
			}
		}
	}
	if added > 0 {
		logger.Info("已加载种子节点", "count", added)
	}
}
