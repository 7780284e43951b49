// Package dht 组装 discv5 发现服务
//
// Service 连接各组件：
//
//	transport ─▶ session.Layer ─▶ rpc.Engine ─▶ handleRequest / 响应匹配
//	                 │ 事件                         │
//	                 ▼                              ▼
//	           eventLoop ─▶ kbucket.Table     queryLoop (query.Pool)
//	                 │
//	                 └─▶ reachability.Monitor ◀─ PONG 投票
//
// 后台循环（errgroup 管理）：
//   - packetLoop：入站数据包交给会话层
//   - queryLoop：独占查询池，派发 FINDNODE 并收集结果
//   - eventLoop：握手完成写入路由表，会话结束标记断开，分发订阅事件
//   - pingLoop：按 PingInterval 检查节点存活
//   - 会话清理、封禁清理、可达性推断
//
// 节点只在握手完成后进入路由表（已验证记录）；查询结果中的记录仅作为
// 候选联系人并以 EventDiscovered 上报。
package dht
