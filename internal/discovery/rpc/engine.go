package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/discovery/session"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("discovery/rpc")

// MaxNodesPackets 单个 FINDNODE 响应最多接受的 NODES 包数
const MaxNodesPackets = 5

// 请求结果标签
const (
	outcomeOK        = "ok"
	outcomePartial   = "partial"
	outcomeTimeout   = "timeout"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Sender 加密发送（由会话层实现）
type Sender interface {
	Send(ctx context.Context, contact types.NodeContact, msg []byte) error
}

// RequestHandler 入站请求处理
//
// 返回的响应按顺序发回请求方。
type RequestHandler interface {
	HandleRequest(from types.NodeAddress, req Message) []Message
}

// RequestHandlerFunc 函数适配器
type RequestHandlerFunc func(from types.NodeAddress, req Message) []Message

// HandleRequest 实现 RequestHandler
func (f RequestHandlerFunc) HandleRequest(from types.NodeAddress, req Message) []Message {
	return f(from, req)
}

// Config 引擎配置
type Config struct {
	Sender  Sender
	Handler RequestHandler

	// Verifier 校验 NODES 中的记录，可为空
	Verifier interfaces.RecordVerifier

	// RequestTimeout 单次发送等待响应的时间
	RequestTimeout time.Duration

	// Retries 超时后使用相同请求 ID 重发的次数
	Retries int

	// OnUnresponsive 请求最终超时时调用，可为空
	OnUnresponsive func(contact types.NodeContact)

	// OnAuthFailure NODES 响应携带签名无效的记录时调用，可为空
	OnAuthFailure func(from types.NodeAddress)

	Metrics *metrics.Metrics
	Clock   clock.Clock
}

type result struct {
	msg Message
	err error
}

// pendingRequest 等待响应的请求
type pendingRequest struct {
	id      RequestID
	contact types.NodeContact
	req     Message
	sentAt  time.Time
	retries int
	done    chan result

	// NODES 聚合
	total    uint64
	received uint64
	records  []*types.Record
	seen     map[types.NodeID]struct{}
}

// ============================================================================
//                              Engine
// ============================================================================

// Engine 请求/响应引擎
//
// 为每个出站请求分配请求 ID，超时后使用相同 ID 重发，
// 将响应与请求一一匹配。
type Engine struct {
	cfg    Config
	clock  clock.Clock
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[RequestID]*pendingRequest
	closed  bool
}

// NewEngine 创建引擎
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("%w: nil sender", ErrInvalidConfig)
	}
	if cfg.RequestTimeout <= 0 || cfg.Retries < 0 {
		return nil, fmt.Errorf("%w: timeout %s retries %d", ErrInvalidConfig, cfg.RequestTimeout, cfg.Retries)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	e := &Engine{
		cfg:     cfg,
		clock:   cfg.Clock,
		pending: make(map[RequestID]*pendingRequest),
	}
	e.nextID.Store(rand.Uint64())
	return e, nil
}

// Pending 返回未完成请求数
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close 以 ErrClosed 结束所有未完成请求
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, p := range e.pending {
		delete(e.pending, id)
		p.finish(nil, ErrClosed)
	}
	return nil
}

// ============================================================================
//                              出站请求
// ============================================================================

// Request 向 contact 发送请求并等待响应
//
// 超时后以相同请求 ID 重发 Retries 次，仍无响应时返回包装
// ErrRequestTimeout 的 *RequestError。
func (e *Engine) Request(ctx context.Context, contact types.NodeContact, msg Message) (Message, error) {
	if !msg.Type().IsRequest() {
		return nil, ErrNotRequest
	}
	id := RequestID(e.nextID.Add(1))
	req, err := withRequestID(msg, id)
	if err != nil {
		return nil, err
	}
	data, err := Encode(req)
	if err != nil {
		return nil, err
	}
	kind := req.Type().String()
	fail := func(err error) error {
		return &RequestError{Op: kind, Peer: contact.ID, Err: err}
	}

	p := &pendingRequest{id: id, contact: contact, req: req, done: make(chan result, 1)}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fail(ErrClosed)
	}
	e.pending[id] = p
	e.mu.Unlock()
	defer e.forget(id)

	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		e.mu.Lock()
		p.sentAt = e.clock.Now()
		p.retries = attempt
		e.mu.Unlock()

		// 握手进行中时消息已排队或将由下一次重发送出
		if err := e.cfg.Sender.Send(ctx, contact, data); err != nil && !errors.Is(err, session.ErrHandshakeInProgress) {
			e.cfg.Metrics.RequestFinished(kind, outcomeFailed)
			return nil, fail(err)
		}
		if attempt > 0 {
			logger.Debug("重发请求", "type", kind, "id", id, "peer", contact.ID.ShortString(), "attempt", attempt)
		}

		timer := e.clock.Timer(e.cfg.RequestTimeout)
		select {
		case r := <-p.done:
			timer.Stop()
			if r.err != nil {
				e.cfg.Metrics.RequestFinished(kind, outcomeFailed)
				return nil, fail(r.err)
			}
			e.cfg.Metrics.RequestFinished(kind, outcomeOK)
			return r.msg, nil
		case <-ctx.Done():
			timer.Stop()
			e.cfg.Metrics.RequestFinished(kind, outcomeCancelled)
			return nil, ctx.Err()
		case <-timer.C:
			if partial := e.partialNodes(p); partial != nil {
				e.cfg.Metrics.RequestFinished(kind, outcomePartial)
				logger.Debug("NODES 未收齐，返回已收到的记录",
					"id", id, "peer", contact.ID.ShortString(), "records", len(partial.Records))
				return partial, nil
			}
		}
	}

	e.cfg.Metrics.RequestFinished(kind, outcomeTimeout)
	logger.Debug("请求超时", "type", kind, "id", id, "peer", contact.ID.ShortString())
	if e.cfg.OnUnresponsive != nil {
		e.cfg.OnUnresponsive(contact)
	}
	return nil, fail(ErrRequestTimeout)
}

// partialNodes 多包 NODES 已收到部分包时返回已聚合的记录
func (e *Engine) partialNodes(p *pendingRequest) *Nodes {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.received == 0 {
		return nil
	}
	return &Nodes{ID: p.id, Total: p.total, Records: slices.Clone(p.records)}
}

func (e *Engine) forget(id RequestID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

// Ping 发送 PING，返回 PONG
func (e *Engine) Ping(ctx context.Context, contact types.NodeContact, localSeq uint64) (*Pong, error) {
	resp, err := e.Request(ctx, contact, &Ping{Seq: localSeq})
	if err != nil {
		return nil, err
	}
	return resp.(*Pong), nil
}

// FindNode 发送 FINDNODE，返回所有 NODES 包中的记录
//
// 多包响应超时前只收到部分包时返回已收到的记录。
func (e *Engine) FindNode(ctx context.Context, contact types.NodeContact, distances []uint) ([]*types.Record, error) {
	resp, err := e.Request(ctx, contact, &FindNode{Distances: distances})
	if err != nil {
		return nil, err
	}
	return resp.(*Nodes).Records, nil
}

// FailPeer 以 ErrPeerFailed 结束发往 id 的所有未完成请求，返回结束数量
func (e *Engine) FailPeer(id types.NodeID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for rid, p := range e.pending {
		if p.contact.ID != id {
			continue
		}
		delete(e.pending, rid)
		p.finish(nil, ErrPeerFailed)
		n++
	}
	if n > 0 {
		logger.Debug("释放对端未完成请求", "peer", id.ShortString(), "count", n)
	}
	return n
}

// ============================================================================
//                              入站消息
// ============================================================================

// HandleMessage 处理会话层解密后的消息，实现 session.Handler
func (e *Engine) HandleMessage(from types.NodeAddress, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		e.cfg.Metrics.PacketDropped("invalid_message")
		logger.Debug("丢弃无效消息", "from", from, "err", err)
		return
	}
	if !msg.Type().IsRequest() {
		e.HandleResponse(from, msg)
		return
	}

	e.cfg.Metrics.RequestReceived()
	if e.cfg.Handler == nil {
		return
	}
	to := types.NodeContact{ID: from.ID, Addr: from.Addr}
	for _, resp := range e.cfg.Handler.HandleRequest(from, msg) {
		out, err := Encode(resp)
		if err != nil {
			logger.Warn("编码响应失败", "type", resp.Type(), "err", err)
			continue
		}
		if err := e.cfg.Sender.Send(context.Background(), to, out); err != nil {
			logger.Debug("发送响应失败", "type", resp.Type(), "to", from, "err", err)
		}
	}
}

// HandleResponse 将响应匹配到未完成请求
//
// 每个请求只完成一次；重复、未知或来源不符的响应被丢弃。
// 返回响应是否被接受（含多包 NODES 的中间包）。
func (e *Engine) HandleResponse(from types.NodeAddress, msg Message) bool {
	accepted, invalid := e.matchResponse(from, msg)
	if invalid > 0 && e.cfg.OnAuthFailure != nil {
		e.cfg.OnAuthFailure(from)
	}
	return accepted
}

// matchResponse 匹配响应，返回是否接受以及签名无效的记录数
func (e *Engine) matchResponse(from types.NodeAddress, msg Message) (bool, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[msg.RequestID()]
	if !ok || p.contact.ID != from.ID || p.contact.Addr != from.Addr {
		e.cfg.Metrics.PacketDropped("unmatched_response")
		logger.Debug("丢弃未匹配的响应", "type", msg.Type(), "id", msg.RequestID(), "from", from)
		return false, 0
	}
	if msg.Type() != p.req.Type().ResponseType() {
		e.cfg.Metrics.PacketDropped("unmatched_response")
		return false, 0
	}

	invalid := 0
	if nodes, ok := msg.(*Nodes); ok {
		var done bool
		done, invalid = e.collectNodesLocked(p, nodes)
		if !done {
			return true, invalid
		}
		msg = &Nodes{ID: p.id, Total: p.total, Records: p.records}
	}
	delete(e.pending, p.id)
	p.finish(msg, nil)
	return true, invalid
}

// collectNodesLocked 聚合 NODES 包，返回是否已收齐以及签名无效的记录数
func (e *Engine) collectNodesLocked(p *pendingRequest, nodes *Nodes) (bool, int) {
	if p.total == 0 {
		p.total = min(max(nodes.Total, 1), MaxNodesPackets)
		p.seen = make(map[types.NodeID]struct{})
	}
	p.received++

	distances := p.req.(*FindNode).Distances
	invalid := 0
	for _, rec := range nodes.Records {
		if _, dup := p.seen[rec.ID]; dup {
			continue
		}
		if err := e.validateRecord(p.contact.ID, distances, rec); err != nil {
			if errors.Is(err, ErrInvalidRecord) {
				invalid++
			}
			logger.Debug("丢弃 NODES 中的记录", "from", p.contact.ID.ShortString(), "peer", rec.ID.ShortString(), "err", err)
			continue
		}
		p.seen[rec.ID] = struct{}{}
		p.records = append(p.records, rec)
	}
	return p.received >= p.total, invalid
}

// validateRecord 校验记录是否位于请求的距离上以及签名
func (e *Engine) validateRecord(responder types.NodeID, distances []uint, rec *types.Record) error {
	d := uint(types.LogDistance(responder, rec.ID))
	if !slices.Contains(distances, d) {
		return fmt.Errorf("distance %d not requested", d)
	}
	if e.cfg.Verifier != nil {
		if err := e.cfg.Verifier.VerifyRecord(rec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}
	return nil
}

func (p *pendingRequest) finish(msg Message, err error) {
	select {
	case p.done <- result{msg: msg, err: err}:
	default:
	}
}
