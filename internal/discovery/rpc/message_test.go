package rpc

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/internal/core/identity"
	"github.com/Golem-Base/discv5/pkg/types"
)

func newRecord(t *testing.T, port uint16) *types.Record {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	rec, err := id.NewRecord(netip.MustParseAddr("10.0.0.1"), port)
	require.NoError(t, err)
	return rec
}

func TestMessage_Roundtrip(t *testing.T) {
	rec := newRecord(t, 9000)
	msgs := []Message{
		&Ping{ID: 7, Seq: 3},
		&Pong{ID: 8, Seq: 4, Observed: netip.MustParseAddrPort("203.0.113.9:30303")},
		&Pong{ID: 9, Seq: 1},
		&FindNode{ID: 10, Distances: []uint{256, 255, 0}},
		&Nodes{ID: 11, Total: 2, Records: []*types.Record{rec}},
	}
	for _, msg := range msgs {
		t.Run(msg.Type().String(), func(t *testing.T) {
			b, err := Encode(msg)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, msg.Type(), got.Type())
			assert.Equal(t, msg.RequestID(), got.RequestID())

			switch m := msg.(type) {
			case *Pong:
				assert.Equal(t, m.Observed, got.(*Pong).Observed)
			case *FindNode:
				assert.Equal(t, m.Distances, got.(*FindNode).Distances)
			case *Nodes:
				n := got.(*Nodes)
				assert.Equal(t, uint64(2), n.Total)
				require.Len(t, n.Records, 1)
				assert.Equal(t, rec.ID, n.Records[0].ID)
				assert.Equal(t, rec.Signature, n.Records[0].Signature)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"UnknownType", []byte{0x7f}},
		{"TruncatedVarint", []byte{byte(MessageTypePing), 0x08, 0xff}},
		{"BadDistance", append([]byte{byte(MessageTypeFindNode)}, 0x28, 0xa0, 0x04)},
		{"BadRecord", []byte{byte(MessageTypeNodes), 0x3a, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestWithRequestID(t *testing.T) {
	orig := &FindNode{Distances: []uint{1}}
	m, err := withRequestID(orig, 42)
	require.NoError(t, err)
	assert.Equal(t, RequestID(42), m.RequestID())
	assert.Equal(t, RequestID(0), orig.ID, "原消息不被修改")

	_, err = withRequestID(&Pong{}, 1)
	assert.ErrorIs(t, err, ErrNotRequest)
}

// TestSplitNodes 拆包后每个包不超过上限且 Total 一致
func TestSplitNodes(t *testing.T) {
	var records []*types.Record
	for i := 0; i < 16; i++ {
		records = append(records, newRecord(t, uint16(9000+i)))
	}

	const limit = 800
	packets := SplitNodes(5, records, limit)
	require.Greater(t, len(packets), 1)

	total := 0
	for _, p := range packets {
		assert.Equal(t, uint64(len(packets)), p.Total)
		assert.Equal(t, RequestID(5), p.ID)
		b, err := Encode(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(b), limit)
		total += len(p.Records)
	}
	assert.Equal(t, len(records), total)

	empty := SplitNodes(6, nil, limit)
	require.Len(t, empty, 1)
	assert.Equal(t, uint64(1), empty[0].Total)
	assert.Empty(t, empty[0].Records)

	t.Log("✅ NODES 拆包正确")
}

func TestMessageType(t *testing.T) {
	assert.True(t, MessageTypePing.IsRequest())
	assert.False(t, MessageTypeNodes.IsRequest())
	assert.Equal(t, MessageTypeNodes, MessageTypeFindNode.ResponseType())
	assert.Equal(t, "UNKNOWN", MessageType(99).String())
}
