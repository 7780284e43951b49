package session

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/Golem-Base/discv5/internal/core/transport"
	"github.com/Golem-Base/discv5/pkg/types"
)

const (
	protocolID = "discv5"
	version    = 1

	// NonceSize 包 nonce 长度
	NonceSize = 12

	// IDNonceSize whoareyou 挑战随机数长度
	IDNonceSize = 16

	headerSize = len(protocolID) + 2 + 1 + NonceSize + 2

	// tagSize ChaCha20-Poly1305 认证标签长度
	tagSize = 16

	whoareyouAuthSize = IDNonceSize + 8

	// randomBodySize 无会话时随机消息体长度
	randomBodySize = 44
)

// handshakeAuthMax 握手 authdata 上限（Ed25519 签名与 X25519 临时公钥）
const handshakeAuthMax = idSize + 2 + 64 + 32 + types.MaxRecordSize

const idSize = len(types.NodeID{})

// MaxMessageSize 单条消息的最大明文
//
// 按握手包计算，任何消息都可以作为握手的首条消息发送。
const MaxMessageSize = transport.MaxPacketSize - headerSize - handshakeAuthMax - tagSize

// Flag 包类型
type Flag byte

const (
	// FlagMessage 普通加密消息
	FlagMessage Flag = iota

	// FlagWhoareyou 挑战
	FlagWhoareyou

	// FlagHandshake 握手应答
	FlagHandshake
)

// String 返回包类型字符串
func (f Flag) String() string {
	switch f {
	case FlagMessage:
		return "message"
	case FlagWhoareyou:
		return "whoareyou"
	case FlagHandshake:
		return "handshake"
	default:
		return fmt.Sprintf("flag(%d)", byte(f))
	}
}

// Nonce 包 nonce：4 字节随机前缀 + 8 字节计数器
type Nonce [NonceSize]byte

// Counter 返回计数器部分
func (n Nonce) Counter() uint64 {
	return binary.BigEndian.Uint64(n[4:])
}

func makeNonce(prefix [4]byte, counter uint64) Nonce {
	var n Nonce
	copy(n[:4], prefix[:])
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

func randomNonce() (Nonce, error) {
	var n Nonce
	_, err := rand.Read(n[:])
	return n, err
}

// ============================================================================
//                              包头
// ============================================================================

type header struct {
	flag     Flag
	nonce    Nonce
	authdata []byte
}

// encodeHeader 编码包头，返回值同时作为 AEAD 附加数据
func encodeHeader(flag Flag, nonce Nonce, authdata []byte) []byte {
	b := make([]byte, 0, headerSize+len(authdata))
	b = append(b, protocolID...)
	b = binary.BigEndian.AppendUint16(b, version)
	b = append(b, byte(flag))
	b = append(b, nonce[:]...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(authdata)))
	return append(b, authdata...)
}

// decodePacket 解析包头，返回包头、原始包头字节与消息体
func decodePacket(b []byte) (header, []byte, []byte, error) {
	var h header
	if len(b) < headerSize {
		return h, nil, nil, fmt.Errorf("%w: short packet (%d bytes)", ErrMalformedPacket, len(b))
	}
	if !bytes.Equal(b[:len(protocolID)], []byte(protocolID)) {
		return h, nil, nil, fmt.Errorf("%w: bad protocol id", ErrMalformedPacket)
	}
	off := len(protocolID)
	if v := binary.BigEndian.Uint16(b[off:]); v != version {
		return h, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedPacket, v)
	}
	off += 2
	h.flag = Flag(b[off])
	off++
	copy(h.nonce[:], b[off:off+NonceSize])
	off += NonceSize
	size := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+size {
		return h, nil, nil, fmt.Errorf("%w: authdata overflows packet", ErrMalformedPacket)
	}
	h.authdata = b[off : off+size]
	off += size
	return h, b[:off], b[off:], nil
}

// ============================================================================
//                              authdata
// ============================================================================

type whoareyouAuth struct {
	idNonce [IDNonceSize]byte
	seq     uint64
}

func (w whoareyouAuth) encode() []byte {
	b := make([]byte, 0, whoareyouAuthSize)
	b = append(b, w.idNonce[:]...)
	return binary.BigEndian.AppendUint64(b, w.seq)
}

func decodeWhoareyouAuth(b []byte) (whoareyouAuth, error) {
	var w whoareyouAuth
	if len(b) != whoareyouAuthSize {
		return w, fmt.Errorf("%w: whoareyou authdata size %d", ErrMalformedPacket, len(b))
	}
	copy(w.idNonce[:], b)
	w.seq = binary.BigEndian.Uint64(b[IDNonceSize:])
	return w, nil
}

func decodeMessageAuth(b []byte) (types.NodeID, error) {
	if len(b) != idSize {
		return types.NodeID{}, fmt.Errorf("%w: message authdata size %d", ErrMalformedPacket, len(b))
	}
	return types.NodeIDFromBytes(b)
}

// handshakeAuth src-id(32) || sig-size(1) || key-size(1) || sig || eph-key || record
type handshakeAuth struct {
	src       types.NodeID
	signature []byte
	ephKey    []byte
	record    []byte
}

func (h handshakeAuth) encode() []byte {
	b := make([]byte, 0, len(h.src)+2+len(h.signature)+len(h.ephKey)+len(h.record))
	b = append(b, h.src[:]...)
	b = append(b, byte(len(h.signature)), byte(len(h.ephKey)))
	b = append(b, h.signature...)
	b = append(b, h.ephKey...)
	return append(b, h.record...)
}

func decodeHandshakeAuth(b []byte) (handshakeAuth, error) {
	var h handshakeAuth
	idLen := len(h.src)
	if len(b) < idLen+2 {
		return h, fmt.Errorf("%w: short handshake authdata", ErrMalformedPacket)
	}
	copy(h.src[:], b[:idLen])
	sigSize, keySize := int(b[idLen]), int(b[idLen+1])
	rest := b[idLen+2:]
	if len(rest) < sigSize+keySize {
		return h, fmt.Errorf("%w: handshake authdata overflows", ErrMalformedPacket)
	}
	h.signature = rest[:sigSize]
	h.ephKey = rest[sigSize : sigSize+keySize]
	if r := rest[sigSize+keySize:]; len(r) > 0 {
		h.record = r
	}
	return h, nil
}
