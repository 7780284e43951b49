package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。示例：
//
//	{
//	  "listen_addr": "0.0.0.0:9000",
//	  "query": {"parallelism": 5, "timeout": "30s"},
//	  "filter": {"enabled": true, "ban_duration": "2h"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load 从文件加载并验证配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cloned := *c
	cloned.BootNodes = slices.Clone(c.BootNodes)
	cloned.Filter.PermitIPs = slices.Clone(c.Filter.PermitIPs)
	cloned.Filter.PermitNodes = slices.Clone(c.Filter.PermitNodes)
	cloned.Filter.BanIPs = slices.Clone(c.Filter.BanIPs)
	cloned.Filter.BanNodes = slices.Clone(c.Filter.BanNodes)
	if c.Filter.BanDuration != nil {
		d := *c.Filter.BanDuration
		cloned.Filter.BanDuration = &d
	}
	return &cloned
}
