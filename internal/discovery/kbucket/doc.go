// Package kbucket 实现 Kademlia 路由表
//
// 路由表按本地 ID 与节点 ID 的对数距离划分为 256 个 K-桶，每桶最多
// MaxNodesPerBucket 个节点，其中入站节点（对方先联系我们）不超过入站限额。
//
// 准入规则（依次检查）：
//   - 不接受本地节点、无 UDP 端点的记录、旧序号记录
//   - 入站节点的记录端点须与数据包来源一致（AllowedCIDR 内的来源除外）
//   - 可插拔 Filter 谓词
//   - 可选 IP 多样性限制：全表同一 /24 ≤ 10，单桶同一 /24 ≤ 2
//   - 桶容量与入站限额；桶满时拒绝，不驱逐已有节点
//
// 所有状态由 Table 的读写锁保护，锁内不做任何网络操作。
package kbucket
