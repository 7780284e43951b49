package session

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/flynn/noise"
	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/hkdf"

	"github.com/Golem-Base/discv5/pkg/types"
)

// randRead 随机源
var randRead = rand.Read

const (
	keyAgreementInfo = "discovery v5 key agreement"
	idProofPrefix    = "discovery v5 identity proof"
)

// sessionKeys 一次握手派生出的双向密钥
type sessionKeys struct {
	initiator [32]byte
	recipient [32]byte
}

// deriveKeys 从 DH 结果派生会话密钥
//
// challengeData 为 whoareyou 包头，作为 HKDF salt。
func deriveKeys(secret, challengeData []byte, initiator, recipient types.NodeID) (sessionKeys, error) {
	info := make([]byte, 0, len(keyAgreementInfo)+2*len(initiator))
	info = append(info, keyAgreementInfo...)
	info = append(info, initiator[:]...)
	info = append(info, recipient[:]...)

	var keys sessionKeys
	r := hkdf.New(sha256.New, secret, challengeData, info)
	if _, err := io.ReadFull(r, keys.initiator[:]); err != nil {
		return keys, fmt.Errorf("derive initiator key: %w", err)
	}
	if _, err := io.ReadFull(r, keys.recipient[:]); err != nil {
		return keys, fmt.Errorf("derive recipient key: %w", err)
	}
	return keys, nil
}

// idProofInput 身份签名覆盖的内容
func idProofInput(challengeData, ephKey []byte, dest types.NodeID) []byte {
	h := sha256.New()
	h.Write([]byte(idProofPrefix))
	h.Write(challengeData)
	h.Write(ephKey)
	h.Write(dest[:])
	return h.Sum(nil)
}

// ephemeralKey 生成临时 X25519 密钥对
func ephemeralKey() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

func ecdh(priv, pub []byte) ([]byte, error) {
	return noise.DH25519.DH(priv, pub)
}

func newCipher(k [32]byte) noise.Cipher {
	return noise.CipherChaChaPoly.Cipher(k)
}

// ============================================================================
//                              重放窗口
// ============================================================================

const replayWindowSize = 64

// replayWindow 接收计数器滑动窗口
type replayWindow struct {
	highest uint64
	bitmap  uint64
	used    bool
}

// check 判断计数器是否可接受（未见过且未落出窗口）
func (w *replayWindow) check(n uint64) bool {
	if !w.used || n > w.highest {
		return true
	}
	diff := w.highest - n
	if diff >= replayWindowSize {
		return false
	}
	return w.bitmap&(1<<diff) == 0
}

// mark 记录已成功解密的计数器
func (w *replayWindow) mark(n uint64) {
	if !w.used {
		w.used, w.highest, w.bitmap = true, n, 1
		return
	}
	if n > w.highest {
		shift := n - w.highest
		if shift >= replayWindowSize {
			w.bitmap = 0
		} else {
			w.bitmap <<= shift
		}
		w.bitmap |= 1
		w.highest = n
		return
	}
	w.bitmap |= 1 << (w.highest - n)
}
