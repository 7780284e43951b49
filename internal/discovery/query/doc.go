// Package query 实现 Kademlia 迭代 FINDNODE 查询
//
// FindNodeQuery 是纯状态机：候选节点按到目标的 XOR 距离排序，
// 最多 Parallelism 个节点同时处于等待状态。单节点超时的节点标记为
// 无响应并释放并发槽位，其迟到响应在查询存活期间仍会合并。
// 一次成功响应未带来更近节点时视为停滞，并发度临时提升到 NumResults。
//
// 结束条件：最近的 NumResults 个已知节点（不含失败/无响应）都已成功，
// 或没有可联系且无等待中的节点。
//
// Pool 按 ID 持有所有活跃查询并执行整体超时，由服务的单个事件循环驱动：
//
//	for _, ev := range pool.Poll(now) {
//	    switch ev.Kind {
//	    case query.EventContact:  // 发送 FINDNODE，结果回报 OnSuccess/OnFailure
//	    case query.EventFinished: // 返回 ev.Result
//	    case query.EventTimeout:  // 返回部分结果
//	    }
//	}
package query
