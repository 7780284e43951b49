package identity

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrNilPrivateKey 私钥为 nil
	ErrNilPrivateKey = errors.New("identity: private key is nil")

	// ErrInvalidPublicKey 公钥格式错误
	ErrInvalidPublicKey = errors.New("identity: invalid public key")

	// ErrInvalidSignature 签名校验失败
	ErrInvalidSignature = errors.New("identity: invalid signature")

	// ErrIDMismatch 记录 ID 与公钥不匹配
	ErrIDMismatch = errors.New("identity: node id does not match public key")

	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key not found")
)
