package discv5

import (
	"errors"

	"github.com/Golem-Base/discv5/internal/discovery/dht"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 服务未启动
	ErrNotStarted = dht.ErrNotStarted

	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = dht.ErrAlreadyStarted

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("discv5: closed")

	// ────────────────────────────────────────────────────────────────────────
	// 查询与记录错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrQueryTimeout 严格模式下查询整体超时
	ErrQueryTimeout = dht.ErrQueryTimeout

	// ErrNoEndpoint 记录没有可联系的 UDP 端点
	ErrNoEndpoint = dht.ErrNoEndpoint

	// ErrRejected 路由表拒绝记录
	ErrRejected = dht.ErrRejected

	// ErrInvalidOption 无效的配置选项
	ErrInvalidOption = errors.New("discv5: invalid option")
)
