package rpc

import (
	"fmt"
	"net/netip"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType uint8

const (
	// MessageTypePing PING 请求
	MessageTypePing MessageType = iota + 1
	// MessageTypePong PONG 响应
	MessageTypePong
	// MessageTypeFindNode FINDNODE 请求
	MessageTypeFindNode
	// MessageTypeNodes NODES 响应
	MessageTypeNodes
)

// String 返回消息类型的字符串表示
func (m MessageType) String() string {
	switch m {
	case MessageTypePing:
		return "PING"
	case MessageTypePong:
		return "PONG"
	case MessageTypeFindNode:
		return "FINDNODE"
	case MessageTypeNodes:
		return "NODES"
	default:
		return "UNKNOWN"
	}
}

// IsRequest 是否为请求类型
func (m MessageType) IsRequest() bool {
	return m == MessageTypePing || m == MessageTypeFindNode
}

// ResponseType 返回请求对应的响应类型
func (m MessageType) ResponseType() MessageType {
	switch m {
	case MessageTypePing:
		return MessageTypePong
	case MessageTypeFindNode:
		return MessageTypeNodes
	default:
		return 0
	}
}

// RequestID 请求 ID，重试时保持不变
type RequestID uint64

// Message 协议消息
type Message interface {
	Type() MessageType
	RequestID() RequestID
}

// ============================================================================
//                              消息结构
// ============================================================================

// Ping 存活探测，携带本地记录序号
type Ping struct {
	ID  RequestID
	Seq uint64
}

// Pong PING 的响应，携带响应者记录序号与观察到的请求方端点
type Pong struct {
	ID       RequestID
	Seq      uint64
	Observed netip.AddrPort
}

// FindNode 按对数距离查询节点
//
// 距离 0 表示请求响应者自身的记录。
type FindNode struct {
	ID        RequestID
	Distances []uint
}

// Nodes FINDNODE 的响应
//
// 一次响应可拆分为 Total 个 NODES 包。
type Nodes struct {
	ID      RequestID
	Total   uint64
	Records []*types.Record
}

func (*Ping) Type() MessageType     { return MessageTypePing }
func (*Pong) Type() MessageType     { return MessageTypePong }
func (*FindNode) Type() MessageType { return MessageTypeFindNode }
func (*Nodes) Type() MessageType    { return MessageTypeNodes }

func (m *Ping) RequestID() RequestID     { return m.ID }
func (m *Pong) RequestID() RequestID     { return m.ID }
func (m *FindNode) RequestID() RequestID { return m.ID }
func (m *Nodes) RequestID() RequestID    { return m.ID }

// withRequestID 返回设置了请求 ID 的请求副本
func withRequestID(msg Message, id RequestID) (Message, error) {
	switch m := msg.(type) {
	case *Ping:
		c := *m
		c.ID = id
		return &c, nil
	case *FindNode:
		c := *m
		c.ID = id
		c.Distances = append([]uint(nil), m.Distances...)
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotRequest, msg.Type())
	}
}

// ============================================================================
//                              编解码
// ============================================================================

// 字段编号
const (
	fieldRequestID protowire.Number = 1
	fieldSeq       protowire.Number = 2
	fieldIP        protowire.Number = 3
	fieldPort      protowire.Number = 4
	fieldDistance  protowire.Number = 5
	fieldTotal     protowire.Number = 6
	fieldRecord    protowire.Number = 7
)

// maxDistances 单个 FINDNODE 最多携带的距离数
const maxDistances = 64

// Encode 编码消息：类型字节 + protowire 字段
func Encode(msg Message) ([]byte, error) {
	b := []byte{byte(msg.Type())}
	b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.RequestID()))

	switch m := msg.(type) {
	case *Ping:
		b = appendVarint(b, fieldSeq, m.Seq)
	case *Pong:
		b = appendVarint(b, fieldSeq, m.Seq)
		if m.Observed.IsValid() {
			b = protowire.AppendTag(b, fieldIP, protowire.BytesType)
			b = protowire.AppendBytes(b, m.Observed.Addr().Unmap().AsSlice())
			b = appendVarint(b, fieldPort, uint64(m.Observed.Port()))
		}
	case *FindNode:
		if len(m.Distances) > maxDistances {
			return nil, fmt.Errorf("%w: %d distances", ErrInvalidMessage, len(m.Distances))
		}
		for _, d := range m.Distances {
			b = appendVarint(b, fieldDistance, uint64(d))
		}
	case *Nodes:
		b = appendVarint(b, fieldTotal, m.Total)
		for _, rec := range m.Records {
			enc, err := rec.Encode()
			if err != nil {
				return nil, fmt.Errorf("encode record %s: %w", rec.ID.ShortString(), err)
			}
			b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
			b = protowire.AppendBytes(b, enc)
		}
	default:
		return nil, fmt.Errorf("%w: unknown message %T", ErrInvalidMessage, msg)
	}
	return b, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Decode 解码消息
//
// 记录只做格式解析，签名由调用方校验。
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
	typ := MessageType(b[0])
	var (
		id       RequestID
		seq      uint64
		ip       netip.Addr
		port     uint64
		total    uint64
		dists    []uint
		records  []*types.Record
		haveAddr bool
	)

	b = b[1:]
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case wt == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(m))
			}
			switch num {
			case fieldRequestID:
				id = RequestID(v)
			case fieldSeq:
				seq = v
			case fieldPort:
				port = v
			case fieldTotal:
				total = v
			case fieldDistance:
				if len(dists) >= maxDistances || v > uint64(types.NodeIDLength*8) {
					return nil, fmt.Errorf("%w: bad distance %d", ErrInvalidMessage, v)
				}
				dists = append(dists, uint(v))
			}
			n = m
		case wt == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(m))
			}
			switch num {
			case fieldIP:
				a, ok := netip.AddrFromSlice(v)
				if !ok {
					return nil, fmt.Errorf("%w: bad ip", ErrInvalidMessage)
				}
				ip, haveAddr = a.Unmap(), true
			case fieldRecord:
				rec, err := types.DecodeRecord(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
				}
				records = append(records, rec)
			}
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, wt, b)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(m))
			}
			n = m
		}
		b = b[n:]
	}

	switch typ {
	case MessageTypePing:
		return &Ping{ID: id, Seq: seq}, nil
	case MessageTypePong:
		p := &Pong{ID: id, Seq: seq}
		if haveAddr {
			if port == 0 || port > 0xffff {
				return nil, fmt.Errorf("%w: bad port %d", ErrInvalidMessage, port)
			}
			p.Observed = netip.AddrPortFrom(ip, uint16(port))
		}
		return p, nil
	case MessageTypeFindNode:
		return &FindNode{ID: id, Distances: dists}, nil
	case MessageTypeNodes:
		if total == 0 {
			total = 1
		}
		return &Nodes{ID: id, Total: total, Records: records}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, typ)
	}
}

// ============================================================================
//                              NODES 拆包
// ============================================================================

// SplitNodes 将记录拆分为多个 NODES 包，每个编码后不超过 maxSize 字节
//
// 无记录时返回一个空 NODES。单条记录无法放入一个包时跳过该记录。
func SplitNodes(id RequestID, records []*types.Record, maxSize int) []*Nodes {
	// 头部：类型字节 + 请求 ID + Total（按最大 varint 预留）
	overhead := 1 + 1 + protowire.SizeVarint(^uint64(0)) + 1 + 2
	var (
		packets []*Nodes
		cur     []*types.Record
	)
	size := overhead
	for _, rec := range records {
		enc, err := rec.Encode()
		if err != nil {
			logger.Debug("跳过无法编码的记录", "peer", rec.ID.ShortString(), "err", err)
			continue
		}
		need := 1 + protowire.SizeBytes(len(enc))
		if overhead+need > maxSize {
			continue
		}
		if size+need > maxSize {
			packets = append(packets, &Nodes{ID: id, Records: cur})
			cur, size = nil, overhead
		}
		cur = append(cur, rec)
		size += need
	}
	if len(cur) > 0 || len(packets) == 0 {
		packets = append(packets, &Nodes{ID: id, Records: cur})
	}
	for _, p := range packets {
		p.Total = uint64(len(packets))
	}
	return packets
}
