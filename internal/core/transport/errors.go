package transport

import "errors"

// MaxPacketSize 单个数据包的最大字节数
const MaxPacketSize = 1280

// DefaultQueueSize 入站队列默认容量
const DefaultQueueSize = 256

var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("transport: closed")

	// ErrPacketTooLarge 数据包超过 MaxPacketSize
	ErrPacketTooLarge = errors.New("transport: packet too large")

	// ErrInvalidAddress 无效地址
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrAddressInUse 地址已被占用
	ErrAddressInUse = errors.New("transport: address in use")
)
