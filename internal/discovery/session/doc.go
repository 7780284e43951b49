// Package session 实现发现协议的加密会话层
//
// 每个 UDP 交换都在按 (节点 ID, 端点) 划分的会话内加密。会话通过一次
// 挑战-应答握手建立：
//
//	发起者                                  响应者
//	  | -- message(随机内容, nonce N) -------> |  无法解密
//	  | <-------- whoareyou(N, id-nonce, seq) |  ChallengeSent
//	  | -- handshake(临时公钥, 身份签名,       |
//	  |    [记录], 加密的排队消息) ----------> |  Established
//	  | <------------- message(加密响应) ---- |
//
// 会话密钥由 HKDF-SHA256 从临时 X25519 密钥与对端静态密钥的 DH 结果派生，
// challenge-data（whoareyou 包头）作为 salt。身份签名覆盖 challenge-data、
// 临时公钥与目标节点 ID，校验委托给 interfaces.RecordVerifier。
//
// # 包格式
//
//	packet = protocol-id(6) || version(2) || flag(1) || nonce(12) ||
//	         authdata-size(2) || authdata || message
//
// 包头整体作为 AEAD 附加数据。nonce 的后 8 字节为发送计数器。
//
// # 状态机
//
//	None -> AwaitingChallenge -> Established -> Expired
//	None -> ChallengeSent     -> Established -> Expired
//
// 未建立的会话最多排队一条出站消息。解密失败、计数器重放、签名无效
// 均作为认证失败上报给 Gate，不会静默丢弃。
package session
