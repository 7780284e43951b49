package connmgr

import "errors"

// 过滤器错误定义
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("connmgr: invalid config")

	// ErrFilterClosed 过滤器已关闭
	ErrFilterClosed = errors.New("connmgr: filter closed")
)
