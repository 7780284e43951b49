package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("discovery/session")

// Gate 入站准入
type Gate interface {
	// Allow 是否接受来自 ip（以及声称的节点 id，可为空）的数据包
	Allow(ip netip.Addr, id *types.NodeID) bool

	// ReportAuthFailure 上报一次认证失败
	ReportAuthFailure(ip netip.Addr, id *types.NodeID)
}

// Handler 解密后的消息处理
//
// 在数据包处理协程中同步调用。
type Handler interface {
	HandleMessage(from types.NodeAddress, msg []byte)
}

// HandlerFunc 函数适配器
type HandlerFunc func(from types.NodeAddress, msg []byte)

// HandleMessage 实现 Handler
func (f HandlerFunc) HandleMessage(from types.NodeAddress, msg []byte) {
	f(from, msg)
}

// Config 会话层配置
type Config struct {
	Identity  interfaces.Identity
	Verifier  interfaces.RecordVerifier
	Transport interfaces.Transport
	Handler   Handler

	// LocalRecord 返回当前本地记录
	LocalRecord func() *types.Record

	// Lookup 查找已知对端记录，可为空
	Lookup func(types.NodeID) *types.Record

	// Gate 入站准入，可为空
	Gate Gate

	// Emit 会话事件输出，可为空
	Emit func(types.Event)

	// Metrics 可为空
	Metrics *metrics.Metrics

	// Timeout 已建立会话的不活跃超时
	Timeout time.Duration

	// HandshakeTimeout 未完成握手的超时，超时后再次发送会重新握手
	HandshakeTimeout time.Duration

	// Capacity 会话缓存容量
	Capacity int

	// SweepInterval 过期清理间隔
	SweepInterval time.Duration

	Clock clock.Clock
}

// ============================================================================
//                              Layer
// ============================================================================

// Layer 加密会话层
type Layer struct {
	cfg   Config
	local types.NodeID
	clock clock.Clock
	store *Store

	nonceMu sync.Mutex
	nonces  map[Nonce]types.NodeAddress
}

// NewLayer 创建会话层
func NewLayer(cfg Config) (*Layer, error) {
	if cfg.Identity == nil || cfg.Verifier == nil || cfg.Transport == nil || cfg.Handler == nil || cfg.LocalRecord == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	l := &Layer{
		cfg:    cfg,
		local:  cfg.Identity.ID(),
		clock:  cfg.Clock,
		nonces: make(map[Nonce]types.NodeAddress),
	}
	store, err := NewStore(cfg.Capacity, cfg.Timeout, cfg.HandshakeTimeout, cfg.Clock, l.onClose)
	if err != nil {
		return nil, err
	}
	l.store = store
	return l, nil
}

// Store 返回会话缓存
func (l *Layer) Store() *Store {
	return l.store
}

// State 返回与 addr 的会话状态
func (l *Layer) State(addr types.NodeAddress) State {
	s, ok := l.store.Peek(addr)
	if !ok {
		return StateNone
	}
	return s.State()
}

// Remove 丢弃与 addr 的会话
func (l *Layer) Remove(addr types.NodeAddress) bool {
	return l.store.Remove(addr, ReasonRemoved)
}

// Sweep 移除过期会话
func (l *Layer) Sweep() int {
	n := l.store.Sweep()
	if n > 0 {
		logger.Debug("清理过期会话", "count", n)
	}
	return n
}

// Run 周期清理，直到 ctx 取消
func (l *Layer) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// ============================================================================
//                              出站
// ============================================================================

// Send 向 contact 发送一条消息
//
// 无会话时发起握手并排队消息；握手进行中且已有排队消息时返回
// ErrHandshakeInProgress。
func (l *Layer) Send(ctx context.Context, contact types.NodeContact, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	for attempt := 0; attempt < 2; attempt++ {
		s, _, evicted := l.store.GetOrCreate(contact.Address())
		if evicted {
			logger.Debug("会话缓存已满，驱逐最久未活跃会话", "new", contact.Address())
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		pkt, err := l.prepareLocked(s, contact, msg)
		s.mu.Unlock()

		if err != nil || pkt == nil {
			return err
		}
		return l.write(ctx, contact.Addr, pkt)
	}
	return ErrHandshakeInProgress
}

func (l *Layer) prepareLocked(s *Session, contact types.NodeContact, msg []byte) ([]byte, error) {
	now := l.clock.Now()
	if contact.Record != nil && contact.Record.ID == contact.ID && contact.Record.Supersedes(s.record) {
		s.record = contact.Record
	}

	switch s.state {
	case StateEstablished:
		if !s.expiredLocked(now, l.cfg.Timeout, l.cfg.HandshakeTimeout) {
			pkt, nonce := s.sealLocked(l.local, FlagMessage, nil, msg)
			s.lastMsg = msg
			s.lastActivity = now
			l.trackNonce(s, nonce)
			return pkt, nil
		}
		logger.Debug("会话已过期，重新握手", "peer", s.addr)
		s.resetLocked()
	case StateAwaitingChallenge, StateChallengeSent:
		if s.queued == nil && s.state == StateChallengeSent {
			s.queued = msg
			return nil, nil
		}
		if now.Sub(s.started) < l.cfg.HandshakeTimeout {
			return nil, ErrHandshakeInProgress
		}
		logger.Debug("握手超时，重新发起", "peer", s.addr)
	}
	return l.startHandshakeLocked(s, msg, now)
}

// startHandshakeLocked 发送随机内容的 message 包，触发对端 whoareyou
func (l *Layer) startHandshakeLocked(s *Session, msg []byte, now time.Time) ([]byte, error) {
	if s.record == nil {
		return nil, ErrNoRecord
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	body := make([]byte, randomBodySize)
	if _, err := randRead(body); err != nil {
		return nil, err
	}
	if s.state != StateChallengeSent {
		s.state = StateAwaitingChallenge
	}
	s.queued = msg
	s.lastMsg = msg
	s.started = now
	s.lastActivity = now
	l.trackNonce(s, nonce)
	return append(encodeHeader(FlagMessage, nonce, l.local[:]), body...), nil
}

func (l *Layer) write(ctx context.Context, to netip.AddrPort, pkt []byte) error {
	if err := l.cfg.Transport.Send(ctx, to, pkt); err != nil {
		return err
	}
	l.cfg.Metrics.PacketSent(len(pkt))
	return nil
}

// trackNonce 记录会话最近一次出站 nonce，用于匹配 whoareyou
func (l *Layer) trackNonce(s *Session, nonce Nonce) {
	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()
	if addr, ok := l.nonces[s.lastNonce]; ok && addr == s.addr {
		delete(l.nonces, s.lastNonce)
	}
	l.nonces[nonce] = s.addr
	s.lastNonce = nonce
}

// ============================================================================
//                              入站
// ============================================================================

// HandlePacket 处理一个入站数据包
//
// 返回的错误仅用于日志与测试；认证失败已上报给 Gate。
func (l *Layer) HandlePacket(ctx context.Context, pkt types.Packet) error {
	l.cfg.Metrics.PacketReceived(len(pkt.Data))
	from := netip.AddrPortFrom(pkt.From.Addr().Unmap(), pkt.From.Port())

	h, hdr, body, err := decodePacket(pkt.Data)
	if err != nil {
		l.cfg.Metrics.PacketDropped("malformed")
		return err
	}
	switch h.flag {
	case FlagMessage:
		return l.handleMessage(ctx, from, h, hdr, body)
	case FlagWhoareyou:
		return l.handleWhoareyou(ctx, from, h, hdr)
	case FlagHandshake:
		return l.handleHandshake(ctx, from, h, hdr, body)
	default:
		l.cfg.Metrics.PacketDropped("malformed")
		return fmt.Errorf("%w: unknown flag %s", ErrMalformedPacket, h.flag)
	}
}

func (l *Layer) allow(from netip.AddrPort, id *types.NodeID) bool {
	if l.cfg.Gate == nil {
		return true
	}
	return l.cfg.Gate.Allow(from.Addr(), id)
}

func (l *Layer) authFailure(op string, from netip.AddrPort, id *types.NodeID, err error) error {
	if l.cfg.Gate != nil {
		l.cfg.Gate.ReportAuthFailure(from.Addr(), id)
	}
	l.cfg.Metrics.HandshakeFailed()
	logger.Debug("认证失败", "op", op, "from", from, "err", err)
	return &AuthError{Op: op, From: from, Err: err}
}

func (l *Layer) handleMessage(ctx context.Context, from netip.AddrPort, h header, hdr, body []byte) error {
	src, err := decodeMessageAuth(h.authdata)
	if err != nil {
		l.cfg.Metrics.PacketDropped("malformed")
		return err
	}
	if !l.allow(from, &src) {
		return ErrDropped
	}
	addr := types.NodeAddress{ID: src, Addr: from}

	if s, ok := l.store.Get(addr); ok {
		s.mu.Lock()
		if s.state == StateEstablished && !s.closed {
			pt, err := s.openLocked(h.nonce, hdr, body)
			if err == nil {
				s.lastActivity = l.clock.Now()
				s.mu.Unlock()
				l.cfg.Handler.HandleMessage(addr, pt)
				return nil
			}
			s.mu.Unlock()
			authErr := l.authFailure("decrypt", from, &src, err)
			if errors.Is(err, ErrDecrypt) {
				if werr := l.sendWhoareyou(ctx, addr, h.nonce); werr != nil {
					logger.Debug("发送 whoareyou 失败", "peer", addr, "err", werr)
				}
			}
			return authErr
		}
		s.mu.Unlock()
	}
	return l.sendWhoareyou(ctx, addr, h.nonce)
}

// sendWhoareyou 对无法解密的消息发出挑战
//
// 同一会话在握手超时内只保留一个挑战。
func (l *Layer) sendWhoareyou(ctx context.Context, addr types.NodeAddress, nonce Nonce) error {
	s, _, _ := l.store.GetOrCreate(addr)
	now := l.clock.Now()

	s.mu.Lock()
	if s.closed || (s.issued != nil && now.Sub(s.issued.at) < l.cfg.HandshakeTimeout) {
		s.mu.Unlock()
		return nil
	}
	var auth whoareyouAuth
	if _, err := randRead(auth.idNonce[:]); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.record == nil && l.cfg.Lookup != nil {
		if rec := l.cfg.Lookup(addr.ID); rec != nil && rec.ID == addr.ID {
			s.record = rec
		}
	}
	if s.record != nil {
		auth.seq = s.record.Seq
	}
	pkt := encodeHeader(FlagWhoareyou, nonce, auth.encode())
	s.issued = &challenge{data: pkt, idNonce: auth.idNonce, at: now}
	switch s.state {
	case StateNone, StateAwaitingChallenge:
		s.state = StateChallengeSent
		s.lastActivity = now
	}
	s.mu.Unlock()

	logger.Debug("发出挑战", "peer", addr, "known_seq", auth.seq)
	return l.write(ctx, addr.Addr, pkt)
}

func (l *Layer) handleWhoareyou(ctx context.Context, from netip.AddrPort, h header, challengeData []byte) error {
	auth, err := decodeWhoareyouAuth(h.authdata)
	if err != nil {
		l.cfg.Metrics.PacketDropped("malformed")
		return err
	}
	if !l.allow(from, nil) {
		return ErrDropped
	}

	l.nonceMu.Lock()
	addr, ok := l.nonces[h.nonce]
	l.nonceMu.Unlock()
	if !ok || addr.Addr != from {
		return ErrUnknownChallenge
	}
	s, ok := l.store.Get(addr)
	if !ok {
		return ErrUnknownChallenge
	}

	s.mu.Lock()
	if s.closed || s.lastNonce != h.nonce || s.lastMsg == nil {
		s.mu.Unlock()
		return ErrUnknownChallenge
	}
	if s.record == nil {
		s.mu.Unlock()
		return ErrNoRecord
	}
	pkt, fresh, err := l.handshakeLocked(s, challengeData, auth)
	rec := s.record
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := l.write(ctx, from, pkt); err != nil {
		return err
	}
	if fresh {
		l.established(rec, from, false)
	}
	return nil
}

// handshakeLocked 作为发起者完成握手，返回握手包
func (l *Layer) handshakeLocked(s *Session, challengeData []byte, auth whoareyouAuth) ([]byte, bool, error) {
	remoteKey, err := l.cfg.Verifier.AgreementKey(s.record)
	if err != nil {
		return nil, false, fmt.Errorf("agreement key: %w", err)
	}
	eph, err := ephemeralKey()
	if err != nil {
		return nil, false, err
	}
	secret, err := ecdh(eph.Private, remoteKey)
	if err != nil {
		return nil, false, fmt.Errorf("ecdh: %w", err)
	}
	keys, err := deriveKeys(secret, challengeData, l.local, s.addr.ID)
	if err != nil {
		return nil, false, err
	}
	sig, err := l.cfg.Identity.Sign(idProofInput(challengeData, eph.Public, s.addr.ID))
	if err != nil {
		return nil, false, fmt.Errorf("sign id proof: %w", err)
	}

	ha := handshakeAuth{src: l.local, signature: sig, ephKey: eph.Public}
	if local := l.cfg.LocalRecord(); local != nil && auth.seq < local.Seq {
		enc, err := local.Encode()
		if err != nil {
			return nil, false, fmt.Errorf("encode local record: %w", err)
		}
		ha.record = enc
	}

	fresh, err := s.establishLocked(keys, true, l.clock.Now())
	if err != nil {
		return nil, false, err
	}
	pkt, nonce := s.sealLocked(l.local, FlagHandshake, ha.encode(), s.lastMsg)
	s.queued = nil
	l.trackNonce(s, nonce)
	logger.Debug("握手已发送", "peer", s.addr, "with_record", ha.record != nil)
	return pkt, fresh, nil
}

func (l *Layer) handleHandshake(ctx context.Context, from netip.AddrPort, h header, hdr, body []byte) error {
	ha, err := decodeHandshakeAuth(h.authdata)
	if err != nil {
		l.cfg.Metrics.PacketDropped("malformed")
		return err
	}
	src := ha.src
	if !l.allow(from, &src) {
		return ErrDropped
	}
	addr := types.NodeAddress{ID: src, Addr: from}

	s, ok := l.store.Get(addr)
	if !ok {
		return l.authFailure("handshake", from, &src, ErrUnknownChallenge)
	}

	s.mu.Lock()
	if s.closed || s.issued == nil {
		s.mu.Unlock()
		return l.authFailure("handshake", from, &src, ErrUnknownChallenge)
	}
	pt, rec, err := l.acceptHandshakeLocked(s, h, ha, hdr, body)
	if err != nil {
		s.issued = nil
		if s.state == StateChallengeSent {
			if s.queued != nil {
				s.state = StateAwaitingChallenge
			} else {
				s.state = StateNone
			}
		}
		s.mu.Unlock()
		return l.authFailure("handshake", from, &src, err)
	}

	fresh, err := s.establishLocked(s.pendingKeys, false, l.clock.Now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pendingKeys = sessionKeys{}
	s.replay.mark(h.nonce.Counter())
	s.record = rec

	var flush []byte
	if queued := s.queued; queued != nil {
		var nonce Nonce
		flush, nonce = s.sealLocked(l.local, FlagMessage, nil, queued)
		s.queued = nil
		s.lastMsg = queued
		l.trackNonce(s, nonce)
	}
	s.mu.Unlock()

	if fresh {
		l.established(rec, from, true)
	}
	if flush != nil {
		if err := l.write(ctx, from, flush); err != nil {
			logger.Debug("发送排队消息失败", "peer", addr, "err", err)
		}
	}
	l.cfg.Handler.HandleMessage(addr, pt)
	return nil
}

// acceptHandshakeLocked 校验握手并解密首条消息，密钥暂存在 pendingKeys
func (l *Layer) acceptHandshakeLocked(s *Session, h header, ha handshakeAuth, hdr, body []byte) ([]byte, *types.Record, error) {
	rec, err := l.handshakeRecordLocked(s, ha)
	if err != nil {
		return nil, nil, err
	}
	proof := idProofInput(s.issued.data, ha.ephKey, l.local)
	if err := l.cfg.Verifier.VerifySignature(rec, proof, ha.signature); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	secret, err := l.cfg.Identity.KeyAgreement(ha.ephKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key agreement: %v", ErrDecrypt, err)
	}
	keys, err := deriveKeys(secret, s.issued.data, ha.src, l.local)
	if err != nil {
		return nil, nil, err
	}
	pt, err := newCipher(keys.initiator).Decrypt(nil, h.nonce.Counter(), hdr, body)
	if err != nil {
		return nil, nil, ErrDecrypt
	}
	s.pendingKeys = keys
	return pt, rec, nil
}

// handshakeRecordLocked 确定用于校验握手的对端记录
func (l *Layer) handshakeRecordLocked(s *Session, ha handshakeAuth) (*types.Record, error) {
	known := s.record
	if known == nil && l.cfg.Lookup != nil {
		known = l.cfg.Lookup(ha.src)
	}
	if known != nil && known.ID != ha.src {
		known = nil
	}
	if ha.record == nil {
		if known == nil {
			return nil, fmt.Errorf("%w: no record for %s", ErrInvalidRecord, ha.src.ShortString())
		}
		return known, nil
	}

	rec, err := types.DecodeRecord(ha.record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.ID != ha.src {
		return nil, fmt.Errorf("%w: record id mismatch", ErrInvalidRecord)
	}
	if err := l.cfg.Verifier.VerifyRecord(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if known != nil && known.Seq > rec.Seq {
		return known, nil
	}
	return rec, nil
}

// ============================================================================
//                              会话事件
// ============================================================================

func (l *Layer) established(rec *types.Record, addr netip.AddrPort, incoming bool) {
	l.cfg.Metrics.SessionEstablished()
	logger.Debug("会话已建立", "peer", rec.ID.ShortString(), "addr", addr, "incoming", incoming)
	if l.cfg.Emit != nil {
		l.cfg.Emit(&types.EventSessionEstablished{
			BaseEvent: types.NewBaseEvent(types.EventTypeSessionEstablished, l.clock.Now()),
			Record:    rec,
			Addr:      addr,
			Incoming:  incoming,
		})
	}
}

func (l *Layer) onClose(s *Session, reason string, wasEstablished bool) {
	s.mu.Lock()
	last := s.lastNonce
	s.mu.Unlock()

	l.nonceMu.Lock()
	if addr, ok := l.nonces[last]; ok && addr == s.addr {
		delete(l.nonces, last)
	}
	l.nonceMu.Unlock()

	if !wasEstablished {
		return
	}
	l.cfg.Metrics.SessionClosed()
	logger.Debug("会话已关闭", "peer", s.addr, "reason", reason)
	if l.cfg.Emit != nil {
		l.cfg.Emit(&types.EventSessionClosed{
			BaseEvent: types.NewBaseEvent(types.EventTypeSessionClosed, l.clock.Now()),
			ID:        s.addr.ID,
			Addr:      s.addr.Addr,
			Reason:    reason,
		})
	}
}
