package config

import (
	"fmt"
	"time"
)

// 迟到响应策略
const (
	// LateReplyDiscard 查询返回后丢弃迟到响应
	LateReplyDiscard = "discard"

	// LateReplyMerge 结束前等待一个节点超时的宽限期以合并迟到响应
	LateReplyMerge = "merge"
)

// QueryConfig 迭代查询配置
type QueryConfig struct {
	// Parallelism 并发请求数
	Parallelism int `json:"parallelism"`

	// PeerTimeout 单节点响应超时，超时节点标记为无响应
	PeerTimeout Duration `json:"peer_timeout"`

	// Timeout 整体查询超时
	Timeout Duration `json:"timeout"`

	// NumResults 返回结果数
	NumResults int `json:"num_results"`

	// LateReplyPolicy 迟到响应策略（discard / merge）
	LateReplyPolicy string `json:"late_reply_policy"`
}

// DefaultQueryConfig 返回默认查询配置
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		Parallelism:     3,
		PeerTimeout:     Duration(2 * time.Second),
		Timeout:         Duration(60 * time.Second),
		NumResults:      16,
		LateReplyPolicy: LateReplyDiscard,
	}
}

// Validate 验证查询配置
func (c QueryConfig) Validate() error {
	if c.Parallelism <= 0 {
		return fmt.Errorf("%w: query parallelism must be positive", ErrInvalidConfig)
	}
	if c.PeerTimeout <= 0 || c.Timeout <= 0 {
		return fmt.Errorf("%w: query timeouts must be positive", ErrInvalidConfig)
	}
	if c.PeerTimeout >= c.Timeout {
		return fmt.Errorf("%w: query peer timeout must be shorter than query timeout", ErrInvalidConfig)
	}
	if c.NumResults <= 0 {
		return fmt.Errorf("%w: query num results must be positive", ErrInvalidConfig)
	}
	switch c.LateReplyPolicy {
	case LateReplyDiscard, LateReplyMerge:
	default:
		return fmt.Errorf("%w: unknown late reply policy %q", ErrInvalidConfig, c.LateReplyPolicy)
	}
	return nil
}
