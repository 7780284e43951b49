package rpc

import (
	"errors"
	"fmt"

	"github.com/Golem-Base/discv5/pkg/types"
)

// 预定义错误
var (
	// ErrRequestTimeout 所有重试均未收到响应
	ErrRequestTimeout = errors.New("rpc: request timeout")

	// ErrPeerFailed 对端会话已拆除
	ErrPeerFailed = errors.New("rpc: peer failed")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("rpc: engine closed")

	// ErrNotRequest 消息不是请求
	ErrNotRequest = errors.New("rpc: not a request")

	// ErrInvalidMessage 消息格式错误
	ErrInvalidMessage = errors.New("rpc: invalid message")

	// ErrInvalidRecord NODES 中的记录签名无效
	ErrInvalidRecord = errors.New("rpc: invalid record")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("rpc: invalid config")
)

// RequestError 请求失败
type RequestError struct {
	Op   string       // 请求类型
	Peer types.NodeID // 目标节点
	Err  error        // 底层错误
}

// Error 实现 error 接口
func (e *RequestError) Error() string {
	return fmt.Sprintf("rpc %s to %s: %v", e.Op, e.Peer.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTimeout 判断是否为请求超时
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout)
}
