package session

import (
	"sync"
	"time"

	"github.com/flynn/noise"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              状态定义
// ============================================================================

// State 会话状态
type State int

const (
	// StateNone 无会话
	StateNone State = iota

	// StateAwaitingChallenge 已发送随机包，等待对端 whoareyou
	StateAwaitingChallenge

	// StateChallengeSent 已发出 whoareyou，等待握手
	StateChallengeSent

	// StateEstablished 会话已建立
	StateEstablished

	// StateExpired 会话已过期或被驱逐
	StateExpired
)

// String 返回状态字符串
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateChallengeSent:
		return "challenge_sent"
	case StateEstablished:
		return "established"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// challenge 已发出的 whoareyou
type challenge struct {
	data    []byte
	idNonce [IDNonceSize]byte
	at      time.Time
}

// ============================================================================
//                              Session
// ============================================================================

// Session 单个对端的会话
//
// 所有字段由 mu 保护；Store 只持有指针。
type Session struct {
	addr types.NodeAddress

	mu    sync.Mutex
	state State

	// record 对端记录（出站时来自联系方式，入站时来自握手）
	record *types.Record

	// 出站握手
	lastNonce Nonce
	lastMsg   []byte
	queued    []byte

	// 入站握手
	issued *challenge

	// pendingKeys 已校验但尚未安装的入站握手密钥
	pendingKeys sessionKeys

	// 已建立会话的密钥
	send        noise.Cipher
	recv        noise.Cipher
	noncePrefix [4]byte
	sendCounter uint64
	replay      replayWindow

	// prevRecv 上一组接收密钥，交叉握手后对端可能仍在使用
	prevRecv   noise.Cipher
	prevReplay replayWindow

	started      time.Time
	lastActivity time.Time
	incoming     bool
	closed       bool
	closeReason  string
}

func newSession(addr types.NodeAddress, now time.Time) *Session {
	return &Session{addr: addr, started: now, lastActivity: now}
}

// Addr 返回会话键
func (s *Session) Addr() types.NodeAddress {
	return s.addr
}

// State 返回当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record 返回对端记录
func (s *Session) Record() *types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// LastActivity 返回最后活跃时间
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// expiredLocked 是否已超过超时
//
// 未建立的会话使用握手超时。
func (s *Session) expiredLocked(now time.Time, timeout, handshakeTimeout time.Duration) bool {
	if s.state == StateEstablished {
		return now.Sub(s.lastActivity) > timeout
	}
	return now.Sub(s.lastActivity) > handshakeTimeout
}

// establishLocked 安装新密钥并进入 Established
//
// 返回此前是否未建立。
func (s *Session) establishLocked(keys sessionKeys, initiator bool, now time.Time) (bool, error) {
	if s.state == StateEstablished && s.recv != nil {
		s.prevRecv, s.prevReplay = s.recv, s.replay
	} else {
		s.prevRecv, s.prevReplay = nil, replayWindow{}
	}
	if initiator {
		s.send, s.recv = newCipher(keys.initiator), newCipher(keys.recipient)
	} else {
		s.send, s.recv = newCipher(keys.recipient), newCipher(keys.initiator)
	}
	if _, err := randRead(s.noncePrefix[:]); err != nil {
		return false, err
	}
	fresh := s.state != StateEstablished
	s.state = StateEstablished
	s.sendCounter = 0
	s.replay = replayWindow{}
	if !initiator {
		// 作为发起者建立时保留已发出的挑战，对端的握手仍可被接受
		s.issued = nil
	}
	s.incoming = !initiator
	s.lastActivity = now
	return fresh, nil
}

// resetLocked 丢弃密钥，回到无会话状态
func (s *Session) resetLocked() {
	s.state = StateNone
	s.send, s.recv = nil, nil
	s.prevRecv, s.prevReplay = nil, replayWindow{}
	s.sendCounter = 0
	s.replay = replayWindow{}
}

// sealLocked 用会话密钥加密一条消息，返回完整数据包与 nonce
func (s *Session) sealLocked(src types.NodeID, flag Flag, authdata, msg []byte) ([]byte, Nonce) {
	nonce := makeNonce(s.noncePrefix, s.sendCounter)
	s.sendCounter++
	if authdata == nil {
		authdata = src[:]
	}
	hdr := encodeHeader(flag, nonce, authdata)
	return s.send.Encrypt(hdr, nonce.Counter(), hdr, msg), nonce
}

// openLocked 用会话密钥解密，成功后推进重放窗口
//
// 当前密钥失败时再尝试上一组接收密钥。
func (s *Session) openLocked(nonce Nonce, hdr, body []byte) ([]byte, error) {
	if s.recv == nil {
		return nil, ErrDecrypt
	}
	pt, err := openWith(s.recv, &s.replay, nonce, hdr, body)
	if err == nil || s.prevRecv == nil {
		return pt, err
	}
	if prev, perr := openWith(s.prevRecv, &s.prevReplay, nonce, hdr, body); perr == nil {
		return prev, nil
	}
	return nil, err
}

func openWith(c noise.Cipher, w *replayWindow, nonce Nonce, hdr, body []byte) ([]byte, error) {
	n := nonce.Counter()
	if !w.check(n) {
		return nil, ErrReplay
	}
	pt, err := c.Decrypt(nil, n, hdr, body)
	if err != nil {
		return nil, ErrDecrypt
	}
	w.mark(n)
	return pt, nil
}

// markClosed 标记关闭
//
// 只有第一次调用返回 first=true；reason 优先使用先前设置的关闭原因。
func (s *Session) markClosed(fallback string) (first, wasEstablished bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false, s.closeReason
	}
	wasEstablished = s.state == StateEstablished
	s.closed = true
	if s.closeReason == "" {
		s.closeReason = fallback
	}
	s.state = StateExpired
	return true, wasEstablished, s.closeReason
}

func (s *Session) setCloseReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeReason == "" {
		s.closeReason = reason
	}
}
