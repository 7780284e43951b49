// Package interfaces 定义 discv5 的外部协作方接口
//
// 发现核心不直接操作套接字、签名算法或存储介质，而是通过以下接口消费：
//   - transport.go      - UDP 数据报收发
//   - identity.go       - 本地身份、签名与记录校验
//   - nodedb.go         - 节点记录持久化
package interfaces
