package interfaces

import (
	"github.com/Golem-Base/discv5/pkg/types"
)

// Identity 本地身份
//
// 提供签名与静态密钥协商能力，私钥不离开实现。
type Identity interface {
	// ID 返回本地节点 ID
	ID() types.NodeID

	// PublicKey 返回编码后的公钥（写入记录）
	PublicKey() []byte

	// Sign 对消息签名
	Sign(msg []byte) ([]byte, error)

	// KeyAgreement 使用本地静态私钥与对端协商公钥做 DH
	KeyAgreement(remote []byte) ([]byte, error)
}

// RecordVerifier 记录与身份证明校验
//
// 发现核心将校验结果视为黑盒：返回 nil 即有效。
type RecordVerifier interface {
	// VerifyRecord 校验记录签名以及 ID 与公钥的对应关系
	VerifyRecord(rec *types.Record) error

	// VerifySignature 使用记录中的公钥校验签名
	VerifySignature(rec *types.Record, msg, sig []byte) error

	// AgreementKey 返回记录公钥对应的密钥协商公钥
	AgreementKey(rec *types.Record) ([]byte, error)
}

// RecordSigner 记录签名
type RecordSigner interface {
	// SignRecord 对未签名记录签名，返回已签名副本
	SignRecord(rec *types.Record) (*types.Record, error)
}
