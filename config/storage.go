package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 节点数据库配置
//
// DataDir 为空时使用内存数据库，重启后不保留节点记录。
//
//	${DataDir}/
//	└── nodes.db/           # BadgerDB 节点记录
type StorageConfig struct {
	// DataDir 数据目录路径
	DataDir string `json:"data_dir,omitempty"`

	// SeedCount 启动时从数据库加载的节点数
	SeedCount int `json:"seed_count"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		SeedCount: 32,
	}
}

// Validate 验证存储配置的有效性
func (c StorageConfig) Validate() error {
	if c.SeedCount < 0 {
		return fmt.Errorf("%w: storage seed count must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// InMemory 是否使用内存数据库
func (c StorageConfig) InMemory() bool {
	return c.DataDir == ""
}

// DBPath 返回 BadgerDB 数据库路径
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "nodes.db")
}
