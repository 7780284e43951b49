package discv5

import (
	"fmt"
	"time"

	"github.com/Golem-Base/discv5/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置常量
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameDefault 默认预设名称
	PresetNameDefault = "default"

	// PresetNameServer 公网服务器预设名称
	PresetNameServer = "server"

	// PresetNameTest 本地测试预设名称
	PresetNameTest = "test"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置获取
// ════════════════════════════════════════════════════════════════════════════

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *config.Config {
	return config.DefaultConfig()
}

// GetServerConfig 获取公网服务器配置
//
// 适用场景：公网节点、引导节点
// 特点：
//   - 启用数据包限速与自动封禁
//   - 启用子网多样性限制
//   - 更大的会话缓存
func GetServerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Filter.Enabled = true
	cfg.Table.IPLimit = true
	cfg.Session.CacheCapacity = 5000
	return cfg
}

// GetTestConfig 获取本地测试配置
//
// 适用场景：单机多节点、集成测试
// 特点：
//   - 监听回环地址的随机端口
//   - 较短的请求与查询超时
//   - 内存节点数据库
func GetTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.RPC.RequestTimeout = config.Duration(200 * time.Millisecond)
	cfg.Query.PeerTimeout = config.Duration(500 * time.Millisecond)
	cfg.Query.Timeout = config.Duration(5 * time.Second)
	cfg.Storage.DataDir = ""
	return cfg
}

// GetConfigByPreset 按名称获取预设配置
func GetConfigByPreset(name string) (*config.Config, error) {
	switch name {
	case PresetNameDefault, "":
		return GetDefaultConfig(), nil
	case PresetNameServer:
		return GetServerConfig(), nil
	case PresetNameTest:
		return GetTestConfig(), nil
	default:
		return nil, fmt.Errorf("%w: unknown preset %q", ErrInvalidOption, name)
	}
}

// PresetInfo 预设信息
type PresetInfo struct {
	Name        string
	Description string
}

// AvailablePresets 返回所有可用预设
func AvailablePresets() []PresetInfo {
	return []PresetInfo{
		{Name: PresetNameDefault, Description: "默认配置，限速关闭"},
		{Name: PresetNameServer, Description: "公网节点，启用限速封禁与子网限制"},
		{Name: PresetNameTest, Description: "本地测试，回环地址与短超时"},
	}
}
