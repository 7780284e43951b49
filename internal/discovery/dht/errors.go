package dht

import (
	"errors"
	"fmt"

	"github.com/Golem-Base/discv5/pkg/types"
)

// 预定义错误
var (
	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("dht: already started")

	// ErrNotStarted 服务未启动
	ErrNotStarted = errors.New("dht: not started")

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("dht: closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrQueryTimeout 查询整体超时（仅严格模式返回）
	ErrQueryTimeout = errors.New("dht: query timeout")

	// ErrNoEndpoint 记录未声明 UDP 端点
	ErrNoEndpoint = errors.New("dht: record has no endpoint")

	// ErrRecordNotFound 对端未返回自身记录
	ErrRecordNotFound = errors.New("dht: record not found")

	// ErrRejected 记录未被路由表接受
	ErrRejected = errors.New("dht: record rejected")
)

// DHTError 带操作上下文的错误
type DHTError struct {
	Op   string
	Peer types.NodeID
	Err  error
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Peer.IsEmpty() {
		return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dht %s %s: %v", e.Op, e.Peer.ShortString(), e.Err)
}

// Unwrap 返回底层错误
func (e *DHTError) Unwrap() error {
	return e.Err
}
