package config

import (
	"fmt"
	"time"
)

// RPCConfig 请求/响应配置
type RPCConfig struct {
	// RequestTimeout 单次请求等待响应的超时
	RequestTimeout Duration `json:"request_timeout"`

	// RequestRetries 超时后使用相同请求 ID 重试的次数
	RequestRetries int `json:"request_retries"`

	// MaxNodesResponse 单个 FINDNODE 响应最多返回的记录数
	MaxNodesResponse int `json:"max_nodes_response"`
}

// DefaultRPCConfig 返回默认请求配置
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RequestTimeout:   Duration(time.Second),
		RequestRetries:   1,
		MaxNodesResponse: 16,
	}
}

// Validate 验证请求配置
func (c RPCConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	}
	if c.RequestRetries < 0 {
		return fmt.Errorf("%w: request retries must be non-negative", ErrInvalidConfig)
	}
	if c.MaxNodesResponse <= 0 {
		return fmt.Errorf("%w: max nodes response must be positive", ErrInvalidConfig)
	}
	return nil
}
