package types

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxRecordSize 编码后记录的最大字节数
const MaxRecordSize = 300

// 记录编解码错误
var (
	// ErrRecordTooLarge 记录超过 MaxRecordSize
	ErrRecordTooLarge = errors.New("types: record too large")

	// ErrRecordMalformed 记录编码格式错误
	ErrRecordMalformed = errors.New("types: malformed record")

	// ErrRecordUnsigned 记录未签名
	ErrRecordUnsigned = errors.New("types: record not signed")
)

// 记录字段编号
const (
	fieldSeq       protowire.Number = 1
	fieldID        protowire.Number = 2
	fieldPublicKey protowire.Number = 3
	fieldIP        protowire.Number = 4
	fieldUDPPort   protowire.Number = 5
	fieldExtra     protowire.Number = 6
	fieldSignature protowire.Number = 15

	extraKey   protowire.Number = 1
	extraValue protowire.Number = 2
)

// Record 签名节点记录
//
// 记录一经签名即不可修改：With* 方法返回副本（序号递增，签名清空），
// 需要重新签名后才能发布。同一节点的记录以 Seq 大者为准。
type Record struct {
	ID        NodeID
	Seq       uint64
	PublicKey []byte
	IP        netip.Addr
	UDPPort   uint16
	Fields    map[string][]byte
	Signature []byte
}

// UDPAddr 返回记录声明的 UDP 端点
//
// 未声明地址时返回零值。
func (r *Record) UDPAddr() netip.AddrPort {
	if r == nil || !r.IP.IsValid() || r.UDPPort == 0 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(r.IP, r.UDPPort)
}

// Signed 是否已签名
func (r *Record) Signed() bool {
	return r != nil && len(r.Signature) > 0
}

// Supersedes 判断 r 是否比 other 更新
func (r *Record) Supersedes(other *Record) bool {
	if other == nil {
		return true
	}
	return r.ID == other.ID && r.Seq > other.Seq
}

// Clone 深拷贝
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PublicKey = bytes.Clone(r.PublicKey)
	c.Signature = bytes.Clone(r.Signature)
	if r.Fields != nil {
		c.Fields = make(map[string][]byte, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = bytes.Clone(v)
		}
	}
	return &c
}

// WithEndpoint 返回更新了 UDP 端点的未签名副本
func (r *Record) WithEndpoint(ip netip.Addr, port uint16) *Record {
	c := r.Clone()
	c.IP = ip.Unmap()
	c.UDPPort = port
	c.Seq++
	c.Signature = nil
	return c
}

// WithoutEndpoint 返回撤回 UDP 端点的未签名副本
func (r *Record) WithoutEndpoint() *Record {
	c := r.Clone()
	c.IP = netip.Addr{}
	c.UDPPort = 0
	c.Seq++
	c.Signature = nil
	return c
}

// WithField 返回设置了扩展字段的未签名副本
func (r *Record) WithField(key string, value []byte) *Record {
	c := r.Clone()
	if c.Fields == nil {
		c.Fields = make(map[string][]byte)
	}
	c.Fields[key] = bytes.Clone(value)
	c.Seq++
	c.Signature = nil
	return c
}

// String 返回可读表示
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Record{id=%s seq=%d udp=%s}", r.ID.ShortString(), r.Seq, r.UDPAddr())
}

// ============================================================================
//                              编解码
// ============================================================================

// SigningPayload 返回签名覆盖的字节（不含签名字段的确定性编码）
func (r *Record) SigningPayload() []byte {
	return r.appendContent(nil)
}

func (r *Record) appendContent(b []byte) []byte {
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ID[:])
	if len(r.PublicKey) > 0 {
		b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
		b = protowire.AppendBytes(b, r.PublicKey)
	}
	if r.IP.IsValid() {
		b = protowire.AppendTag(b, fieldIP, protowire.BytesType)
		b = protowire.AppendBytes(b, r.IP.AsSlice())
	}
	if r.UDPPort != 0 {
		b = protowire.AppendTag(b, fieldUDPPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.UDPPort))
	}

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var kv []byte
		kv = protowire.AppendTag(kv, extraKey, protowire.BytesType)
		kv = protowire.AppendString(kv, k)
		kv = protowire.AppendTag(kv, extraValue, protowire.BytesType)
		kv = protowire.AppendBytes(kv, r.Fields[k])
		b = protowire.AppendTag(b, fieldExtra, protowire.BytesType)
		b = protowire.AppendBytes(b, kv)
	}
	return b
}

// Encode 编码记录
func (r *Record) Encode() ([]byte, error) {
	if !r.Signed() {
		return nil, ErrRecordUnsigned
	}
	b := r.appendContent(make([]byte, 0, 128))
	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Signature)
	if len(b) > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(b))
	}
	return b, nil
}

// DecodeRecord 解码记录
//
// 只检查格式，签名由 RecordVerifier 校验。
func DecodeRecord(b []byte) (*Record, error) {
	if len(b) > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	r := &Record{}
	var haveID bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrRecordMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, ErrRecordMalformed
			}
			r.Seq = v
			n = m
		case num == fieldUDPPort && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 || v > 0xffff {
				return nil, ErrRecordMalformed
			}
			r.UDPPort = uint16(v)
			n = m
		case typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, ErrRecordMalformed
			}
			if err := r.setBytesField(num, v); err != nil {
				return nil, err
			}
			if num == fieldID {
				haveID = true
			}
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, ErrRecordMalformed
			}
			n = m
		}
		b = b[n:]
	}
	if !haveID {
		return nil, fmt.Errorf("%w: missing id", ErrRecordMalformed)
	}
	return r, nil
}

func (r *Record) setBytesField(num protowire.Number, v []byte) error {
	switch num {
	case fieldID:
		id, err := NodeIDFromBytes(v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRecordMalformed, err)
		}
		r.ID = id
	case fieldPublicKey:
		r.PublicKey = bytes.Clone(v)
	case fieldIP:
		ip, ok := netip.AddrFromSlice(v)
		if !ok {
			return fmt.Errorf("%w: bad ip", ErrRecordMalformed)
		}
		r.IP = ip.Unmap()
	case fieldSignature:
		r.Signature = bytes.Clone(v)
	case fieldExtra:
		key, value, err := decodeExtra(v)
		if err != nil {
			return err
		}
		if r.Fields == nil {
			r.Fields = make(map[string][]byte)
		}
		r.Fields[key] = value
	}
	return nil
}

func decodeExtra(b []byte) (string, []byte, error) {
	var key string
	var value []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType {
			return "", nil, ErrRecordMalformed
		}
		b = b[n:]
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return "", nil, ErrRecordMalformed
		}
		switch num {
		case extraKey:
			key = string(v)
		case extraValue:
			value = bytes.Clone(v)
		}
		b = b[m:]
	}
	return key, value, nil
}
