package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// Verifier Ed25519 记录校验器
type Verifier struct{}

var _ interfaces.RecordVerifier = Verifier{}

// NewVerifier 创建校验器
func NewVerifier() Verifier {
	return Verifier{}
}

// VerifyRecord 校验记录签名与 ID
func (Verifier) VerifyRecord(rec *types.Record) error {
	if !rec.Signed() {
		return types.ErrRecordUnsigned
	}
	if len(rec.PublicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if NodeIDFromPublicKey(rec.PublicKey) != rec.ID {
		return ErrIDMismatch
	}
	if !ed25519.Verify(rec.PublicKey, rec.SigningPayload(), rec.Signature) {
		return fmt.Errorf("%w: record %s seq %d", ErrInvalidSignature, rec.ID.ShortString(), rec.Seq)
	}
	return nil
}

// VerifySignature 使用记录公钥校验任意消息签名
func (Verifier) VerifySignature(rec *types.Record, msg, sig []byte) error {
	if len(rec.PublicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(rec.PublicKey, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// AgreementKey 返回记录公钥对应的 X25519 公钥
func (Verifier) AgreementKey(rec *types.Record) ([]byte, error) {
	return ed25519ToX25519Public(rec.PublicKey)
}
