// Package reachability 实现外部地址投票与可达性推断
//
// IPVote 收集对端在 PONG 中观察到的本地端点（按 IPv4 / IPv6 分别统计），
// 投票在 VoteDuration 后过期；不同投票者达到 EnrPeerUpdateMin 且一致时
// 得出多数地址。
//
// Monitor 在多数地址变化时更新本地记录（幂等），之后进入监听窗口：
//
//	Unknown -> Advertised -> Reachable
//	               \
//	                -> Retracted -> (冷却结束) -> Advertised
//
// 监听窗口内未观察到入站会话即推断处于防火墙后，撤回地址一段冷却时间后重试。
package reachability
