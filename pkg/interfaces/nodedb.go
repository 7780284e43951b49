package interfaces

import (
	"github.com/Golem-Base/discv5/pkg/types"
)

// NodeDB 节点记录持久化
type NodeDB interface {
	// Put 保存记录（仅当比已有记录更新）
	Put(rec *types.Record) error

	// Get 读取记录
	Get(id types.NodeID) (*types.Record, error)

	// Delete 删除记录
	Delete(id types.NodeID) error

	// Seeds 返回最多 n 条记录，用于启动时填充路由表
	Seeds(n int) ([]*types.Record, error)

	// Close 关闭数据库
	Close() error
}
