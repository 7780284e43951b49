package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/netip"

	"github.com/flynn/noise"
	sha256 "github.com/minio/sha256-simd"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              Identity 实现
// ============================================================================

// Identity Ed25519 节点身份
type Identity struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	xpriv  []byte
	nodeID types.NodeID
}

// 确保实现接口
var (
	_ interfaces.Identity     = (*Identity)(nil)
	_ interfaces.RecordSigner = (*Identity)(nil)
)

// Generate 生成新的随机身份
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return New(priv)
}

// New 从私钥创建身份
func New(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrNilPrivateKey
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv:   priv,
		pub:    pub,
		xpriv:  ed25519ToX25519Private(priv),
		nodeID: NodeIDFromPublicKey(pub),
	}, nil
}

// FromSeed 从 32 字节种子创建身份（测试和确定性部署使用）
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrNilPrivateKey
	}
	return New(ed25519.NewKeyFromSeed(seed))
}

// NodeIDFromPublicKey 从公钥派生 NodeID
func NodeIDFromPublicKey(pub []byte) types.NodeID {
	return types.NodeID(sha256.Sum256(pub))
}

// ID 返回节点 ID
func (i *Identity) ID() types.NodeID {
	return i.nodeID
}

// PublicKey 返回 Ed25519 公钥
func (i *Identity) PublicKey() []byte {
	return i.pub
}

// PrivateKey 返回 Ed25519 私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign 签名数据
func (i *Identity) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(i.priv, msg), nil
}

// KeyAgreement 使用本地 X25519 静态私钥与对端 X25519 公钥做 DH
func (i *Identity) KeyAgreement(remote []byte) ([]byte, error) {
	secret, err := noise.DH25519.DH(i.xpriv, remote)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return secret, nil
}

// ============================================================================
//                              记录签名
// ============================================================================

// SignRecord 对记录签名，返回已签名副本
func (i *Identity) SignRecord(rec *types.Record) (*types.Record, error) {
	c := rec.Clone()
	c.ID = i.nodeID
	c.PublicKey = append([]byte(nil), i.pub...)
	c.Signature = nil
	sig, err := i.Sign(c.SigningPayload())
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

// NewRecord 创建并签名本地记录（序号从 1 开始）
//
// ip 无效时记录不声明端点，由可达性投票稍后填入。
func (i *Identity) NewRecord(ip netip.Addr, port uint16) (*types.Record, error) {
	rec := &types.Record{Seq: 1}
	if ip.IsValid() && !ip.IsUnspecified() && port != 0 {
		rec.IP = ip.Unmap()
		rec.UDPPort = port
	}
	return i.SignRecord(rec)
}
