// Package types 定义 discv5 的基础类型
//
// 包括节点 ID 与 XOR 距离度量、签名节点记录、节点地址、
// 传输层数据包以及对外发布的发现事件。
package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/bits"
)

// ============================================================================
//                              NodeID
// ============================================================================

// NodeIDLength 节点 ID 字节长度
const NodeIDLength = 32

// NodeID 节点唯一标识
//
// 由节点公钥哈希得到（SHA-256），同时作为 Kademlia 键空间中的位置。
type NodeID [NodeIDLength]byte

// EmptyNodeID 空节点 ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 节点 ID 格式错误
var ErrInvalidNodeID = errors.New("types: invalid node id")

// String 返回十六进制表示
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回缩略表示（前 8 个十六进制字符）
func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes 返回字节切片副本
func (id NodeID) Bytes() []byte {
	b := make([]byte, NodeIDLength)
	copy(b, id[:])
	return b
}

// IsEmpty 是否为空 ID
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// Equal 比较两个 ID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeIDFromBytes 从字节切片构造 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDLength {
		return id, ErrInvalidNodeID
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 解析十六进制 NodeID
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}

// ============================================================================
//                              距离度量
// ============================================================================

// Distance 计算两个 ID 的 XOR 距离
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// LogDistance 计算对数距离
//
// 即 XOR 结果的比特长度：相等时为 0，最高位不同时为 256。
func LogDistance(a, b NodeID) int {
	for i := range a {
		x := a[i] ^ b[i]
		if x != 0 {
			return (NodeIDLength-i-1)*8 + bits.Len8(x)
		}
	}
	return 0
}

// CommonPrefixLen 计算公共前缀长度（比特）
func CommonPrefixLen(a, b NodeID) int {
	return NodeIDLength*8 - LogDistance(a, b)
}

// CompareDistance 比较 a、b 到 target 的距离
//
// 返回 -1 表示 a 更近，1 表示 b 更近，0 表示距离相同。
func CompareDistance(target, a, b NodeID) int {
	da := Distance(target, a)
	db := Distance(target, b)
	return bytes.Compare(da[:], db[:])
}

// Closer a 是否比 b 更接近 target
func Closer(target, a, b NodeID) bool {
	return CompareDistance(target, a, b) < 0
}
