// Package config 提供 discv5 的统一配置
//
// 本包采用与组件一一对应的子配置：
//   - Session: 会话缓存与超时
//   - RPC: 请求超时、重试与 NODES 响应上限
//   - Query: 迭代查询并行度与超时
//   - Table: 路由表准入（IP 多样性、入站限额、地址放宽网段）
//   - Filter: 入站滥用过滤（限速、封禁、白名单）
//   - Reachability: 外部地址投票与 AutoNAT 推断
//   - Storage: 节点数据库
//
// 使用示例：
//
//	cfg := config.DefaultConfig()
//	cfg.Query.Parallelism = 5
//	if err := cfg.Validate(); err != nil { ... }
//
//	// 从 JSON 文件加载（未出现的字段保留默认值）
//	cfg, err := config.Load("discv5.json")
package config

import (
	"encoding/json"
	"errors"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("config: invalid")

// Config discv5 完整配置
type Config struct {
	// ListenAddr UDP 监听地址，例如 "0.0.0.0:9000"
	ListenAddr string `json:"listen_addr"`

	// Session 会话配置
	Session SessionConfig `json:"session"`

	// RPC 请求/响应配置
	RPC RPCConfig `json:"rpc"`

	// Query 迭代查询配置
	Query QueryConfig `json:"query"`

	// Table 路由表配置
	Table TableConfig `json:"table"`

	// Filter 滥用过滤配置
	Filter FilterConfig `json:"filter"`

	// Reachability 可达性配置
	Reachability ReachabilityConfig `json:"reachability"`

	// Storage 节点数据库配置
	Storage StorageConfig `json:"storage"`

	// BootNodes 引导节点记录（"enr:" + Base58 编码）
	BootNodes []string `json:"boot_nodes,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "0.0.0.0:9000",
		Session:      DefaultSessionConfig(),
		RPC:          DefaultRPCConfig(),
		Query:        DefaultQueryConfig(),
		Table:        DefaultTableConfig(),
		Filter:       DefaultFilterConfig(),
		Reachability: DefaultReachabilityConfig(),
		Storage:      DefaultStorageConfig(),
	}
}

// Validate 验证配置
//
// 在 discv5.New 中调用，无效配置在启动前失败。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.RPC.Validate(); err != nil {
		return err
	}
	if err := c.Query.Validate(); err != nil {
		return err
	}
	if err := c.Table.Validate(); err != nil {
		return err
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if err := c.Reachability.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}

// MustValidate 验证配置，失败时 panic
//
// 仅用于初始化阶段或测试代码。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(err)
	}
}

// String 返回 JSON 形式的配置（调试用）
func (c *Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<invalid config>"
	}
	return string(b)
}
