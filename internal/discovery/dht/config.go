package dht

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/reachability"
	"github.com/Golem-Base/discv5/internal/discovery/query"
)

// 内部调度间隔
const (
	// queryTickInterval 查询池轮询间隔（单节点超时与整体超时的精度）
	queryTickInterval = 100 * time.Millisecond

	// reachabilityTickInterval 可达性监听窗口检查间隔
	reachabilityTickInterval = 10 * time.Second

	// maxConcurrentPings 存活检查的并发上限
	maxConcurrentPings = 16

	// lookupDistanceCount 每次 FINDNODE 请求的距离数
	lookupDistanceCount = 3
)

// Config 服务配置
type Config struct {
	// RequestTimeout 单次请求等待响应的时间，同时作为握手超时
	RequestTimeout time.Duration

	// RequestRetries 请求超时后的重发次数
	RequestRetries int

	// MaxNodesResponse FINDNODE 响应最多返回的记录数
	MaxNodesResponse int

	Query query.Config

	// 路由表
	IPLimit             bool
	IncomingBucketLimit int
	AllowedCIDR         netip.Prefix

	// PingInterval 存活检查间隔
	PingInterval time.Duration

	// ReportDiscoveredPeers 是否上报查询中发现的记录
	ReportDiscoveredPeers bool

	// 会话
	SessionTimeout       time.Duration
	SessionCapacity      int
	SessionSweepInterval time.Duration

	Reachability reachability.Config

	// SeedCount 启动时从节点数据库加载的记录数
	SeedCount int
}

// ConfigFromUnified 从统一配置创建服务配置
func ConfigFromUnified(cfg *config.Config) (Config, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	q, err := query.FromConfig(cfg.Query)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	prefix, err := cfg.Table.AllowedPrefix()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Config{
		RequestTimeout:        cfg.RPC.RequestTimeout.Duration(),
		RequestRetries:        cfg.RPC.RequestRetries,
		MaxNodesResponse:      cfg.RPC.MaxNodesResponse,
		Query:                 q,
		IPLimit:               cfg.Table.IPLimit,
		IncomingBucketLimit:   cfg.Table.IncomingBucketLimit,
		AllowedCIDR:           prefix,
		PingInterval:          cfg.Table.PingInterval.Duration(),
		ReportDiscoveredPeers: cfg.Table.ReportDiscoveredPeers,
		SessionTimeout:        cfg.Session.Timeout.Duration(),
		SessionCapacity:       cfg.Session.CacheCapacity,
		SessionSweepInterval:  cfg.Session.SweepInterval.Duration(),
		Reachability: reachability.Config{
			EnrUpdate:       cfg.Reachability.EnrUpdate,
			VoteDuration:    cfg.Reachability.VoteDuration.Duration(),
			MinVotes:        cfg.Reachability.EnrPeerUpdateMin,
			ListenDuration:  cfg.Reachability.AutoNATListenDuration.Duration(),
			RetractCooldown: cfg.Reachability.AutoNATRetractCooldown.Duration(),
		},
		SeedCount: cfg.Storage.SeedCount,
	}, nil
}

// DefaultConfig 返回默认服务配置
func DefaultConfig() Config {
	c, _ := ConfigFromUnified(config.DefaultConfig())
	return c
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.RequestTimeout <= 0 || c.RequestRetries < 0 {
		return fmt.Errorf("%w: request timeout %s retries %d", ErrInvalidConfig, c.RequestTimeout, c.RequestRetries)
	}
	if c.MaxNodesResponse <= 0 {
		return fmt.Errorf("%w: max nodes response %d", ErrInvalidConfig, c.MaxNodesResponse)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping interval %s", ErrInvalidConfig, c.PingInterval)
	}
	if c.SessionTimeout <= 0 || c.SessionCapacity <= 0 {
		return fmt.Errorf("%w: session timeout %s capacity %d", ErrInvalidConfig, c.SessionTimeout, c.SessionCapacity)
	}
	return nil
}
