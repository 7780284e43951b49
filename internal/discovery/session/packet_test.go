package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/pkg/types"
)

// TestPacket_HeaderRoundTrip 包头编解码
func TestPacket_HeaderRoundTrip(t *testing.T) {
	nonce := makeNonce([4]byte{1, 2, 3, 4}, 42)
	auth := whoareyouAuth{idNonce: [IDNonceSize]byte{9}, seq: 7}
	hdr := encodeHeader(FlagWhoareyou, nonce, auth.encode())
	pkt := append(append([]byte(nil), hdr...), []byte("body")...)

	h, rawHdr, body, err := decodePacket(pkt)
	require.NoError(t, err)
	assert.Equal(t, FlagWhoareyou, h.flag)
	assert.Equal(t, nonce, h.nonce)
	assert.Equal(t, uint64(42), h.nonce.Counter())
	assert.Equal(t, hdr, rawHdr)
	assert.Equal(t, []byte("body"), body)

	got, err := decodeWhoareyouAuth(h.authdata)
	require.NoError(t, err)
	assert.Equal(t, auth, got)
}

// TestPacket_Malformed 格式错误的包
func TestPacket_Malformed(t *testing.T) {
	valid := encodeHeader(FlagMessage, Nonce{}, make([]byte, idSize))

	tests := []struct {
		name string
		data []byte
	}{
		{"空包", nil},
		{"过短", valid[:headerSize-1]},
		{"协议标识错误", append([]byte("discv4"), valid[6:]...)},
		{"版本错误", append(append([]byte(protocolID), 0, 9), valid[8:]...)},
		{"authdata 越界", valid[:len(valid)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := decodePacket(tt.data)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}

	_, err := decodeMessageAuth([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPacket)
	_, err = decodeWhoareyouAuth([]byte{1})
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

// TestPacket_HandshakeAuth 握手 authdata 编解码
func TestPacket_HandshakeAuth(t *testing.T) {
	in := handshakeAuth{
		src:       types.NodeID{1, 2, 3},
		signature: make([]byte, 64),
		ephKey:    make([]byte, 32),
		record:    []byte("record-bytes"),
	}
	out, err := decodeHandshakeAuth(in.encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in.record = nil
	out, err = decodeHandshakeAuth(in.encode())
	require.NoError(t, err)
	assert.Nil(t, out.record)

	_, err = decodeHandshakeAuth(in.encode()[:40])
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestFlag_String(t *testing.T) {
	assert.Equal(t, "handshake", FlagHandshake.String())
	assert.Equal(t, "flag(9)", Flag(9).String())
}
