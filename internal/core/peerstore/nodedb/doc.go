// Package nodedb 提供节点记录数据库
//
// 节点数据库负责：
//   - 持久化已连接节点的签名记录
//   - 记录最后活跃时间
//   - 启动时按最后活跃时间返回种子节点
//
// # 实现
//
//   - MemoryDB：内存实现，适用于测试和无数据目录的节点
//   - BadgerDB：基于 BadgerDB 的持久化实现
//
//	db, err := nodedb.Open(cfg.Storage, clock.New())
//	defer db.Close()
//
//	_ = db.Put(rec)
//	seeds, _ := db.Seeds(32)
//
// 设计参考 go-ethereum p2p/enode.DB
package nodedb
