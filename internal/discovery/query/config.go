package query

import (
	"fmt"
	"time"

	"github.com/Golem-Base/discv5/config"
)

// LateReplyPolicy 查询满足结束条件后对无响应节点迟到响应的处理策略
type LateReplyPolicy int

const (
	// DiscardAfterReturn 立即返回，之后的迟到响应被丢弃
	DiscardAfterReturn LateReplyPolicy = iota

	// MergeBeforeReturn 返回前等待一个单节点超时的宽限期，合并迟到响应
	MergeBeforeReturn
)

// String 返回策略名称
func (p LateReplyPolicy) String() string {
	if p == MergeBeforeReturn {
		return config.LateReplyMerge
	}
	return config.LateReplyDiscard
}

// ParseLateReplyPolicy 解析配置中的策略名称
func ParseLateReplyPolicy(s string) (LateReplyPolicy, error) {
	switch s {
	case "", config.LateReplyDiscard:
		return DiscardAfterReturn, nil
	case config.LateReplyMerge:
		return MergeBeforeReturn, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Config 查询参数
type Config struct {
	// Parallelism 同时等待响应的节点数
	Parallelism int

	// PeerTimeout 单节点超时，超时节点不再占用并发槽位
	PeerTimeout time.Duration

	// Timeout 整体超时，由 Pool 执行
	Timeout time.Duration

	// NumResults 结果数
	NumResults int

	LateReplyPolicy LateReplyPolicy
}

// DefaultConfig 返回默认查询参数
func DefaultConfig() Config {
	return Config{
		Parallelism: 3,
		PeerTimeout: 2 * time.Second,
		Timeout:     60 * time.Second,
		NumResults:  config.MaxNodesPerBucket,
	}
}

// FromConfig 从配置文件结构转换
func FromConfig(c config.QueryConfig) (Config, error) {
	policy, err := ParseLateReplyPolicy(c.LateReplyPolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Parallelism:     c.Parallelism,
		PeerTimeout:     c.PeerTimeout.Duration(),
		Timeout:         c.Timeout.Duration(),
		NumResults:      c.NumResults,
		LateReplyPolicy: policy,
	}, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = def.PeerTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.NumResults <= 0 {
		c.NumResults = def.NumResults
	}
	return c
}
