package config

import (
	"fmt"
	"time"
)

// ReachabilityConfig 外部地址投票与可达性配置
type ReachabilityConfig struct {
	// EnrUpdate 投票达成多数后是否更新本地记录
	EnrUpdate bool `json:"enr_update"`

	// VoteDuration 投票有效期
	VoteDuration Duration `json:"vote_duration"`

	// EnrPeerUpdateMin 更新地址所需的最少不同投票节点数
	EnrPeerUpdateMin int `json:"enr_peer_update_min"`

	// AutoNATListenDuration 发布地址后等待入站会话的时间，0 表示禁用
	AutoNATListenDuration Duration `json:"auto_nat_listen_duration"`

	// AutoNATRetractCooldown 撤回地址后重新尝试前的冷却时间
	AutoNATRetractCooldown Duration `json:"auto_nat_retract_cooldown"`
}

// DefaultReachabilityConfig 返回默认可达性配置
func DefaultReachabilityConfig() ReachabilityConfig {
	return ReachabilityConfig{
		EnrUpdate:              true,
		VoteDuration:           Duration(120 * time.Second),
		EnrPeerUpdateMin:       10,
		AutoNATListenDuration:  Duration(5 * time.Minute),
		AutoNATRetractCooldown: Duration(6 * time.Hour),
	}
}

// Validate 验证可达性配置
func (c ReachabilityConfig) Validate() error {
	if c.VoteDuration <= 0 {
		return fmt.Errorf("%w: vote duration must be positive", ErrInvalidConfig)
	}
	if c.EnrPeerUpdateMin < 2 {
		return fmt.Errorf("%w: enr peer update min must be at least 2", ErrInvalidConfig)
	}
	if c.AutoNATListenDuration < 0 {
		return fmt.Errorf("%w: auto nat listen duration must be non-negative", ErrInvalidConfig)
	}
	if c.AutoNATListenDuration > 0 && c.AutoNATRetractCooldown <= 0 {
		return fmt.Errorf("%w: auto nat retract cooldown must be positive", ErrInvalidConfig)
	}
	return nil
}
