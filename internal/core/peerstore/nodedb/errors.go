package nodedb

import "errors"

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("nodedb: record not found")

	// ErrClosed 数据库已关闭
	ErrClosed = errors.New("nodedb: database is closed")

	// ErrInvalidRecord 无效记录
	ErrInvalidRecord = errors.New("nodedb: invalid record")

	// ErrCorrupt 存储的数据无法解码
	ErrCorrupt = errors.New("nodedb: corrupt entry")
)
