package main

import (
	"os"
	"strings"

	"github.com/Golem-Base/discv5/config"
)

// 环境变量名
const (
	envListenAddr = "DISCV5_LISTEN_ADDR"
	envDataDir    = "DISCV5_DATA_DIR"
	envBootNodes  = "DISCV5_BOOT_NODES"
	envFilter     = "DISCV5_ENABLE_FILTER"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
//   - DISCV5_LISTEN_ADDR: UDP 监听地址
//   - DISCV5_DATA_DIR: 数据目录
//   - DISCV5_BOOT_NODES: 引导节点记录（十六进制，逗号分隔，追加到配置）
//   - DISCV5_ENABLE_FILTER: 启用数据包限速
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envBootNodes); v != "" {
		cfg.BootNodes = append(cfg.BootNodes, splitAndTrim(v, ",")...)
	}
	if v := os.Getenv(envFilter); v != "" {
		cfg.Filter.Enabled = parseBool(v)
	}
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
