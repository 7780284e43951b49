package config

import (
	"fmt"
	"net/netip"
	"time"
)

// MaxNodesPerBucket 每个 K-桶容量
const MaxNodesPerBucket = 16

// TableConfig 路由表配置
type TableConfig struct {
	// IPLimit 是否启用 /24 子网多样性限制
	IPLimit bool `json:"ip_limit"`

	// IncomingBucketLimit 每个桶中入站节点上限，不能超过桶容量
	IncomingBucketLimit int `json:"incoming_bucket_limit"`

	// AllowedCIDR 记录端点与来源地址不一致时仍允许的网段（例如 NAT 内网）
	AllowedCIDR string `json:"allowed_cidr,omitempty"`

	// PingInterval 对已连接节点的存活探测间隔
	PingInterval Duration `json:"ping_interval"`

	// ReportDiscoveredPeers 是否上报查询中发现的所有节点
	ReportDiscoveredPeers bool `json:"report_discovered_peers"`
}

// DefaultTableConfig 返回默认路由表配置
func DefaultTableConfig() TableConfig {
	return TableConfig{
		IPLimit:               false,
		IncomingBucketLimit:   MaxNodesPerBucket,
		PingInterval:          Duration(300 * time.Second),
		ReportDiscoveredPeers: true,
	}
}

// Validate 验证路由表配置
func (c TableConfig) Validate() error {
	if c.IncomingBucketLimit <= 0 || c.IncomingBucketLimit > MaxNodesPerBucket {
		return fmt.Errorf("%w: incoming bucket limit must be in [1, %d]", ErrInvalidConfig, MaxNodesPerBucket)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping interval must be positive", ErrInvalidConfig)
	}
	if _, err := c.AllowedPrefix(); err != nil {
		return err
	}
	return nil
}

// AllowedPrefix 解析 AllowedCIDR，未配置时返回零值
func (c TableConfig) AllowedPrefix() (netip.Prefix, error) {
	if c.AllowedCIDR == "" {
		return netip.Prefix{}, nil
	}
	p, err := netip.ParsePrefix(c.AllowedCIDR)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: allowed cidr: %v", ErrInvalidConfig, err)
	}
	return p.Masked(), nil
}
