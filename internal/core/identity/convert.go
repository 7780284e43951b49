package identity

import (
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// ed25519ToX25519Private 将 Ed25519 私钥转换为 X25519 私钥
//
// SHA-512(seed) 前 32 字节做 RFC 7748 clamping。
func ed25519ToX25519Private(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// ed25519ToX25519Public 将 Ed25519 公钥转换为 X25519 公钥
//
// Edwards -> Montgomery：u = (1 + y) / (1 - y) (mod p)
func ed25519ToX25519Public(pub []byte) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return point.BytesMontgomery(), nil
}
