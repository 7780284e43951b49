package config

import (
	"fmt"
	"time"
)

// SessionConfig 会话配置
type SessionConfig struct {
	// Timeout 会话无活动超时，超时后在下一次清理时移除
	Timeout Duration `json:"timeout"`

	// CacheCapacity 会话缓存容量，满时按 LRU 驱逐
	CacheCapacity int `json:"cache_capacity"`

	// SweepInterval 过期会话清理间隔
	SweepInterval Duration `json:"sweep_interval"`
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Timeout:       Duration(24 * time.Hour),
		CacheCapacity: 1000,
		SweepInterval: Duration(time.Minute),
	}
}

// Validate 验证会话配置
func (c SessionConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidConfig)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: session cache capacity must be positive", ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: session sweep interval must be positive", ErrInvalidConfig)
	}
	return nil
}
