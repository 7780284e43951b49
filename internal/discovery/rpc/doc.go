// Package rpc 实现发现协议的请求/响应层
//
// 消息：
//
//	PING{req-id, seq}               → PONG{req-id, seq, observed ip:port}
//	FINDNODE{req-id, distances...}  → NODES{req-id, total, records...} × total
//
// 编码为 类型字节 + protowire 字段，整条消息作为会话层的明文。
//
// Engine 为每个请求分配随机起点的递增请求 ID，超时后用相同 ID 重发
// RequestRetries 次；响应按 ID 与来源匹配，每个请求只完成一次。
// 多包 NODES 响应在收齐 total 个包后合并返回，记录需位于请求的距离上。
package rpc
