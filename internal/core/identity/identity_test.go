package identity

import (
	"bytes"
	"crypto/rand"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/pkg/types"
)

func TestIdentity_Generate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	assert.Equal(t, NodeIDFromPublicKey(id.PublicKey()), id.ID())
	assert.False(t, id.ID().IsEmpty())

	seed := bytes.Repeat([]byte{7}, 32)
	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID(), "相同种子派生相同 ID")

	_, err = FromSeed([]byte{1})
	assert.ErrorIs(t, err, ErrNilPrivateKey)

	t.Log("✅ 身份生成测试通过")
}

func TestIdentity_SignRecord(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	v := NewVerifier()

	rec, err := id.NewRecord(netip.MustParseAddr("10.1.2.3"), 9000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, id.ID(), rec.ID)
	require.NoError(t, v.VerifyRecord(rec))

	encoded, err := rec.Encode()
	require.NoError(t, err)
	decoded, err := types.DecodeRecord(encoded)
	require.NoError(t, err)
	require.NoError(t, v.VerifyRecord(decoded), "编解码后签名仍有效")

	tampered := rec.Clone()
	tampered.UDPPort = 9001
	assert.ErrorIs(t, v.VerifyRecord(tampered), ErrInvalidSignature)

	unsigned := rec.WithEndpoint(netip.MustParseAddr("10.1.2.4"), 9000)
	assert.ErrorIs(t, v.VerifyRecord(unsigned), types.ErrRecordUnsigned)

	resigned, err := id.SignRecord(unsigned)
	require.NoError(t, err)
	require.NoError(t, v.VerifyRecord(resigned))
	assert.Equal(t, uint64(2), resigned.Seq)

	other, err := Generate()
	require.NoError(t, err)
	forged := resigned.Clone()
	forged.ID = other.ID()
	assert.ErrorIs(t, v.VerifyRecord(forged), ErrIDMismatch)

	t.Log("✅ 记录签名与校验测试通过")
}

func TestIdentity_NoEndpointRecord(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	rec, err := id.NewRecord(netip.IPv4Unspecified(), 9000)
	require.NoError(t, err)
	assert.False(t, rec.UDPAddr().IsValid())
}

func TestIdentity_KeyAgreement(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	v := NewVerifier()

	recB, err := b.NewRecord(netip.MustParseAddr("10.0.0.2"), 9000)
	require.NoError(t, err)
	bStatic, err := v.AgreementKey(recB)
	require.NoError(t, err)

	eph, err := noise.DH25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	initiator, err := noise.DH25519.DH(eph.Private, bStatic)
	require.NoError(t, err)
	responder, err := b.KeyAgreement(eph.Public)
	require.NoError(t, err)
	assert.Equal(t, initiator, responder, "双方派生相同共享密钥")

	wrong, err := a.KeyAgreement(eph.Public)
	require.NoError(t, err)
	assert.NotEqual(t, initiator, wrong)

	_, err = v.AgreementKey(&types.Record{PublicKey: []byte{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	t.Log("✅ Ed25519 -> X25519 密钥协商测试通过")
}

func TestIdentity_VerifySignature(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	rec, err := id.NewRecord(netip.Addr{}, 0)
	require.NoError(t, err)

	msg := []byte("proof")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	v := NewVerifier()
	assert.NoError(t, v.VerifySignature(rec, msg, sig))
	assert.ErrorIs(t, v.VerifySignature(rec, []byte("other"), sig), ErrInvalidSignature)
}

func TestIdentity_PEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	_, err := LoadPEM(path)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	created, err := LoadOrCreate(path)
	require.NoError(t, err)
	loaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, created.ID(), loaded.ID())

	t.Log("✅ PEM 持久化测试通过")
}

func TestProvideServices(t *testing.T) {
	res, err := ProvideServices(Params{})
	require.NoError(t, err)
	assert.Equal(t, res.Local.ID(), res.Identity.ID())

	fixed, err := Generate()
	require.NoError(t, err)
	res, err = ProvideServices(Params{Config: &Config{PrivateKey: fixed.PrivateKey()}})
	require.NoError(t, err)
	assert.Equal(t, fixed.ID(), res.Identity.ID())
}
