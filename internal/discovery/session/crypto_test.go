package session

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/internal/core/identity"
)

// TestDeriveKeys 发起者与响应者派生出相同密钥
func TestDeriveKeys(t *testing.T) {
	initiator, err := identity.Generate()
	require.NoError(t, err)
	responder, err := identity.Generate()
	require.NoError(t, err)
	rec, err := responder.NewRecord(netip.MustParseAddr("10.0.0.1"), 9000)
	require.NoError(t, err)

	remoteKey, err := identity.NewVerifier().AgreementKey(rec)
	require.NoError(t, err)
	eph, err := ephemeralKey()
	require.NoError(t, err)

	s1, err := ecdh(eph.Private, remoteKey)
	require.NoError(t, err)
	s2, err := responder.KeyAgreement(eph.Public)
	require.NoError(t, err)
	require.Equal(t, s1, s2)

	challengeData := []byte("challenge")
	k1, err := deriveKeys(s1, challengeData, initiator.ID(), responder.ID())
	require.NoError(t, err)
	k2, err := deriveKeys(s2, challengeData, initiator.ID(), responder.ID())
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1.initiator, k1.recipient)

	k3, err := deriveKeys(s1, []byte("other"), initiator.ID(), responder.ID())
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "challenge-data 参与派生")

	// 双向加解密
	enc := newCipher(k1.initiator).Encrypt(nil, 5, []byte("ad"), []byte("hello"))
	pt, err := newCipher(k2.initiator).Decrypt(nil, 5, []byte("ad"), enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)
	_, err = newCipher(k2.initiator).Decrypt(nil, 5, []byte("xx"), enc)
	assert.Error(t, err, "附加数据不一致")

	t.Log("✅ 密钥派生一致")
}

// TestIDProof 身份签名覆盖目标节点
func TestIDProof(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	rec, err := id.NewRecord(netip.MustParseAddr("10.0.0.1"), 9000)
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	msg := idProofInput([]byte("cd"), []byte("eph"), other.ID())
	sig, err := id.Sign(msg)
	require.NoError(t, err)

	v := identity.NewVerifier()
	assert.NoError(t, v.VerifySignature(rec, msg, sig))
	assert.Error(t, v.VerifySignature(rec, idProofInput([]byte("cd"), []byte("eph"), id.ID()), sig))
}

// TestReplayWindow 重放窗口
func TestReplayWindow(t *testing.T) {
	var w replayWindow
	assert.True(t, w.check(0))
	w.mark(0)
	assert.False(t, w.check(0), "重复计数器")

	w.mark(5)
	assert.True(t, w.check(3), "窗口内未见过")
	w.mark(3)
	assert.False(t, w.check(3))
	assert.False(t, w.check(5))

	w.mark(200)
	assert.False(t, w.check(100), "落出窗口")
	assert.True(t, w.check(199))
	assert.True(t, w.check(201))
}
