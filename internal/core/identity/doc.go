// Package identity 提供默认的 Ed25519 节点身份
//
// 身份模块负责：
//   - Ed25519 密钥生成、PEM 持久化
//   - NodeID 派生：SHA-256(公钥)
//   - 记录签名与校验（实现 interfaces.RecordSigner / RecordVerifier）
//   - 握手密钥协商：Ed25519 密钥转换为 X25519 后做 DH
//
// 发现核心只通过 interfaces 包中的接口消费身份，可替换为其他签名方案。
package identity
