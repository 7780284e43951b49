package dht

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/connmgr"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/core/reachability"
	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/internal/discovery/rpc"
	"github.com/Golem-Base/discv5/internal/discovery/session"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("discovery/dht")

// Deps 服务协作方
type Deps struct {
	Identity  interfaces.Identity
	Verifier  interfaces.RecordVerifier
	Transport interfaces.Transport

	// Signer 本地记录签名，nil 时要求 Identity 实现 RecordSigner
	Signer interfaces.RecordSigner

	// LocalRecord 初始本地记录，nil 时按传输监听地址创建
	LocalRecord *types.Record

	// NodeDB 节点数据库，可为空
	NodeDB interfaces.NodeDB

	// Filter 滥用过滤器，nil 时创建禁用限速的过滤器
	Filter *connmgr.Filter

	// TableFilter 路由表准入谓词，可为空
	TableFilter kbucket.Filter

	// BootNodes 启动时加入路由表的记录
	BootNodes []*types.Record

	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// ============================================================================
//                              Service
// ============================================================================

// Service 发现服务
//
// 将路由表、会话层、请求引擎、查询池与可达性监视器组装在一起，
// 并运行数据包、查询、事件与存活检查循环。
type Service struct {
	cfg     Config
	deps    Deps
	clock   clock.Clock
	metrics *metrics.Metrics

	local   *localRecordManager
	table   *kbucket.Table
	filter  *connmgr.Filter
	layer   *session.Layer
	engine  *rpc.Engine
	monitor *reachability.Monitor

	events *eventQueue
	hub    *eventHub

	lookups chan *lookup
	cancels chan *lookup
	replies chan peerReply

	refreshMu  sync.Mutex
	refreshing map[types.NodeID]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	loopCtx context.Context
	started atomic.Bool
	stopped atomic.Bool
}

// New 创建发现服务
func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Identity == nil || deps.Verifier == nil || deps.Transport == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}
	if deps.Signer == nil {
		signer, ok := deps.Identity.(interfaces.RecordSigner)
		if !ok {
			return nil, fmt.Errorf("%w: no record signer", ErrInvalidConfig)
		}
		deps.Signer = signer
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	cfg.Reachability.Clock = deps.Clock

	localID := deps.Identity.ID()
	rec, err := initialRecord(deps)
	if err != nil {
		return nil, err
	}
	if rec.ID != localID {
		return nil, fmt.Errorf("%w: local record belongs to %s", ErrInvalidConfig, rec.ID.ShortString())
	}

	s := &Service{
		cfg:        cfg,
		deps:       deps,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		local:      newLocalRecordManager(deps.Signer, rec),
		filter:     deps.Filter,
		events:     newEventQueue(),
		hub:        newEventHub(),
		lookups:    make(chan *lookup),
		cancels:    make(chan *lookup),
		replies:    make(chan peerReply),
		refreshing: make(map[types.NodeID]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group, s.loopCtx = errgroup.WithContext(s.ctx)

	s.table = kbucket.New(localID, kbucket.Config{
		IncomingBucketLimit: cfg.IncomingBucketLimit,
		IPLimit:             cfg.IPLimit,
		AllowedCIDR:         cfg.AllowedCIDR,
		Filter:              deps.TableFilter,
		Clock:               deps.Clock,
	})

	if s.filter == nil {
		s.filter, err = connmgr.NewFilter(config.DefaultFilterConfig(), deps.Clock)
		if err != nil {
			return nil, err
		}
	}
	s.filter.SetBanHook(func(target string, reason connmgr.BanReason) {
		s.metrics.Banned(target, reason.String())
	})

	gate := &filterGate{filter: s.filter, metrics: deps.Metrics}
	s.layer, err = session.NewLayer(session.Config{
		Identity:         deps.Identity,
		Verifier:         deps.Verifier,
		Transport:        deps.Transport,
		Handler:          session.HandlerFunc(s.handleMessage),
		LocalRecord:      s.local.Record,
		Lookup:           s.lookupRecord,
		Gate:             gate,
		Emit:             s.events.push,
		Metrics:          deps.Metrics,
		Timeout:          cfg.SessionTimeout,
		HandshakeTimeout: cfg.RequestTimeout,
		Capacity:         cfg.SessionCapacity,
		SweepInterval:    cfg.SessionSweepInterval,
		Clock:            deps.Clock,
	})
	if err != nil {
		return nil, err
	}

	s.engine, err = rpc.NewEngine(rpc.Config{
		Sender:         s.layer,
		Handler:        rpc.RequestHandlerFunc(s.handleRequest),
		Verifier:       deps.Verifier,
		RequestTimeout: cfg.RequestTimeout,
		Retries:        cfg.RequestRetries,
		OnUnresponsive: func(c types.NodeContact) { s.markDisconnected(c.ID) },
		OnAuthFailure:  gate.reportResponder,
		Metrics:        deps.Metrics,
		Clock:          deps.Clock,
	})
	if err != nil {
		return nil, err
	}

	s.monitor = reachability.NewMonitor(cfg.Reachability, s.local, rec.UDPAddr())
	s.monitor.SetEventSink(s.events.push)

	return s, nil
}

// initialRecord 返回初始本地记录
func initialRecord(deps Deps) (*types.Record, error) {
	if deps.LocalRecord != nil {
		if err := deps.Verifier.VerifyRecord(deps.LocalRecord); err != nil {
			return nil, fmt.Errorf("%w: local record: %v", ErrInvalidConfig, err)
		}
		return deps.LocalRecord, nil
	}
	rec := &types.Record{Seq: 1}
	if addr := deps.Transport.LocalAddr(); addr.IsValid() && !addr.Addr().IsUnspecified() {
		rec.IP = addr.Addr().Unmap()
		rec.UDPPort = addr.Port()
	}
	return deps.Signer.SignRecord(rec)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动后台循环
func (s *Service) Start(_ context.Context) error {
	if s.stopped.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	logger.Info("正在启动发现服务",
		"id", s.LocalID().ShortString(),
		"addr", s.deps.Transport.LocalAddr())

	s.loadSeeds()

	g, ctx := s.group, s.loopCtx
	g.Go(func() error { return s.packetLoop(ctx) })
	g.Go(func() error { return s.queryLoop(ctx) })
	g.Go(func() error { return s.eventLoop(ctx) })
	g.Go(func() error { return s.pingLoop(ctx) })
	g.Go(func() error { return s.layer.Run(ctx) })
	g.Go(func() error { return s.filter.Run(ctx) })
	g.Go(func() error { return s.monitor.Run(ctx, reachabilityTickInterval) })

	logger.Info("发现服务启动成功", "tableSize", s.table.Len())
	return nil
}

// Stop 停止后台循环并关闭传输
func (s *Service) Stop(_ context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	logger.Info("正在停止发现服务")

	s.cancel()
	err := s.engine.Close()
	err = multierr.Append(err, s.deps.Transport.Close())
	err = multierr.Append(err, s.group.Wait())
	s.hub.close()

	if err != nil {
		logger.Warn("停止发现服务时出错", "error", err)
		return err
	}
	logger.Info("发现服务已停止")
	return nil
}

// Close 释放未启动服务持有的传输；已启动时等同于 Stop
func (s *Service) Close() error {
	if s.started.Load() {
		return s.Stop(context.Background())
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.hub.close()
	return multierr.Append(s.engine.Close(), s.deps.Transport.Close())
}

// goAsync 在服务生命周期内运行后台任务
func (s *Service) goAsync(fn func(ctx context.Context)) {
	if s.loopCtx.Err() != nil {
		return
	}
	s.group.Go(func() error {
		fn(s.loopCtx)
		return nil
	})
}

// ============================================================================
//                              访问器
// ============================================================================

// LocalID 返回本地节点 ID
func (s *Service) LocalID() types.NodeID {
	return s.deps.Identity.ID()
}

// LocalRecord 返回当前本地记录
func (s *Service) LocalRecord() *types.Record {
	return s.local.Record()
}

// SetLocalField 设置本地记录扩展字段并重新签名，返回新序号
func (s *Service) SetLocalField(key string, value []byte) (uint64, error) {
	return s.local.SetField(key, value)
}

// Table 返回路由表
func (s *Service) Table() *kbucket.Table {
	return s.table
}

// Filter 返回滥用过滤器
func (s *Service) Filter() *connmgr.Filter {
	return s.filter
}

// Sessions 返回会话层
func (s *Service) Sessions() *session.Layer {
	return s.layer
}

// Monitor 返回可达性监视器
func (s *Service) Monitor() *reachability.Monitor {
	return s.monitor
}

// Subscribe 订阅发现事件
func (s *Service) Subscribe(buffer int) *Subscription {
	return s.hub.subscribe(buffer)
}

// lookupRecord 供会话层校验握手时查找对端记录
func (s *Service) lookupRecord(id types.NodeID) *types.Record {
	if e, ok := s.table.Get(id); ok {
		return e.Record
	}
	if s.deps.NodeDB != nil {
		if rec, err := s.deps.NodeDB.Get(id); err == nil {
			return rec
		}
	}
	return nil
}

// emit 投递事件，由事件循环分发
func (s *Service) emit(ev types.Event) {
	s.events.push(ev)
}

// contactFor 返回已知节点的联系方式
func (s *Service) contactFor(rec *types.Record) (types.NodeContact, error) {
	c, ok := types.ContactFromRecord(rec)
	if !ok {
		return types.NodeContact{}, &DHTError{Op: "contact", Peer: rec.ID, Err: ErrNoEndpoint}
	}
	return c, nil
}

// ============================================================================
//                              封禁
// ============================================================================

// BanNode 封禁节点并断开其会话，d <= 0 表示永久
func (s *Service) BanNode(id types.NodeID, d time.Duration) {
	s.filter.BanNode(id, d)
	s.dropPeer(id)
}

// BanIP 封禁 IP，d <= 0 表示永久
func (s *Service) BanIP(ip netip.Addr, d time.Duration) {
	s.filter.BanIP(ip, d)
	for _, e := range s.table.Entries() {
		if e.Record.IP == ip.Unmap() {
			s.dropPeer(e.ID())
		}
	}
}

// dropPeer 移出路由表并结束会话
func (s *Service) dropPeer(id types.NodeID) {
	e, ok := s.table.Get(id)
	if !ok {
		return
	}
	if s.table.Remove(id) {
		s.metrics.SetTableSize(s.table.Len())
	}
	s.layer.Remove(types.NodeAddress{ID: id, Addr: e.Record.UDPAddr()})
	s.engine.FailPeer(id)
}
