package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// RateLimit 令牌桶参数
type RateLimit struct {
	// RPS 每秒补充的令牌数
	RPS float64 `json:"rps"`

	// Burst 桶容量
	Burst int `json:"burst"`
}

// Validate 验证限速参数
func (r RateLimit) Validate() error {
	if r.RPS <= 0 || r.Burst <= 0 {
		return fmt.Errorf("%w: rate limit rps and burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// FilterConfig 入站滥用过滤配置
//
// 封禁名单始终生效；限速与自动封禁仅在 Enabled 时生效。
type FilterConfig struct {
	// Enabled 是否启用限速与自动封禁
	Enabled bool `json:"enabled"`

	// Total 全局入站限速
	Total RateLimit `json:"total"`

	// Node 单节点限速
	Node RateLimit `json:"node"`

	// IP 单 IP 限速
	IP RateLimit `json:"ip"`

	// ViolationsBeforeBan 超限多少次后封禁节点或 IP
	ViolationsBeforeBan int `json:"violations_before_ban"`

	// MaxNodesPerIP 单个 IP 可使用的不同节点 ID 数，超过即封禁该 IP
	MaxNodesPerIP int `json:"max_nodes_per_ip"`

	// MaxBansPerIP 单个 IP 下被封禁节点数达到该值即封禁该 IP
	MaxBansPerIP int `json:"max_bans_per_ip"`

	// BanDuration 封禁时长，nil 表示永久封禁
	BanDuration *Duration `json:"ban_duration"`

	// BanSweepInterval 过期封禁清理间隔
	BanSweepInterval Duration `json:"ban_sweep_interval"`

	// PermitIPs 强制放行的 IP
	PermitIPs []string `json:"permit_ips,omitempty"`

	// PermitNodes 强制放行的节点 ID（十六进制）
	PermitNodes []string `json:"permit_nodes,omitempty"`

	// BanIPs 强制丢弃的 IP，优先于放行名单
	BanIPs []string `json:"ban_ips,omitempty"`

	// BanNodes 强制丢弃的节点 ID（十六进制），优先于放行名单
	BanNodes []string `json:"ban_nodes,omitempty"`
}

// DefaultFilterConfig 返回默认过滤配置
func DefaultFilterConfig() FilterConfig {
	banDuration := Duration(time.Hour)
	return FilterConfig{
		Enabled:             false,
		Total:               RateLimit{RPS: 10, Burst: 10},
		Node:                RateLimit{RPS: 8, Burst: 8},
		IP:                  RateLimit{RPS: 9, Burst: 9},
		ViolationsBeforeBan: 5,
		MaxNodesPerIP:       10,
		MaxBansPerIP:        5,
		BanDuration:         &banDuration,
		BanSweepInterval:    Duration(5 * time.Minute),
	}
}

// Validate 验证过滤配置
func (c FilterConfig) Validate() error {
	for _, r := range []RateLimit{c.Total, c.Node, c.IP} {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if c.ViolationsBeforeBan <= 0 {
		return fmt.Errorf("%w: violations before ban must be positive", ErrInvalidConfig)
	}
	if c.MaxNodesPerIP <= 0 || c.MaxBansPerIP <= 0 {
		return fmt.Errorf("%w: max nodes/bans per ip must be positive", ErrInvalidConfig)
	}
	if c.BanDuration != nil && *c.BanDuration <= 0 {
		return fmt.Errorf("%w: ban duration must be positive", ErrInvalidConfig)
	}
	if c.BanSweepInterval <= 0 {
		return fmt.Errorf("%w: ban sweep interval must be positive", ErrInvalidConfig)
	}
	if _, err := ParseAddrs(c.PermitIPs); err != nil {
		return err
	}
	if _, err := ParseAddrs(c.BanIPs); err != nil {
		return err
	}
	if _, err := ParseNodeIDs(c.PermitNodes); err != nil {
		return err
	}
	if _, err := ParseNodeIDs(c.BanNodes); err != nil {
		return err
	}
	return nil
}

// ParseAddrs 解析 IP 列表
func ParseAddrs(list []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(list))
	for _, s := range list {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%w: ip %q: %v", ErrInvalidConfig, s, err)
		}
		out = append(out, ip.Unmap())
	}
	return out, nil
}

// ParseNodeIDs 解析节点 ID 列表
func ParseNodeIDs(list []string) ([]types.NodeID, error) {
	out := make([]types.NodeID, 0, len(list))
	for _, s := range list {
		id, err := types.ParseNodeID(s)
		if err != nil {
			return nil, fmt.Errorf("%w: node id %q: %v", ErrInvalidConfig, s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
