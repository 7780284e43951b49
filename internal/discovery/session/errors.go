package session

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("session: invalid config")

	// ErrHandshakeInProgress 握手进行中且已有排队消息
	ErrHandshakeInProgress = errors.New("session: handshake in progress")

	// ErrNoRecord 目标缺少记录，无法发起握手
	ErrNoRecord = errors.New("session: destination record unknown")

	// ErrMessageTooLarge 消息超出单包容量
	ErrMessageTooLarge = errors.New("session: message too large")

	// ErrMalformedPacket 包格式错误
	ErrMalformedPacket = errors.New("session: malformed packet")

	// ErrUnknownChallenge 收到无法匹配的 whoareyou 或握手
	ErrUnknownChallenge = errors.New("session: unknown challenge")

	// ErrDecrypt 解密失败
	ErrDecrypt = errors.New("session: decryption failed")

	// ErrReplay 计数器重放
	ErrReplay = errors.New("session: replayed nonce")

	// ErrBadSignature 身份签名无效
	ErrBadSignature = errors.New("session: invalid id signature")

	// ErrInvalidRecord 握手携带的记录无效
	ErrInvalidRecord = errors.New("session: invalid record")

	// ErrDropped 数据包被 Gate 丢弃
	ErrDropped = errors.New("session: packet dropped")
)

// AuthError 认证失败
//
// 所有认证失败都会上报给 Gate。
type AuthError struct {
	Op   string
	From netip.AddrPort
	Err  error
}

// Error 实现 error 接口
func (e *AuthError) Error() string {
	return fmt.Sprintf("session: %s from %s: %v", e.Op, e.From, e.Err)
}

// Unwrap 返回底层错误
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError 判断是否为认证失败
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
