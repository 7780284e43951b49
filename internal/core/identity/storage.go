package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

// ============================================================================
//                              私钥持久化
// ============================================================================

// SavePEM 保存私钥到 PEM 文件
//
// 临时文件 + rename 原子写入，权限 0600。
func (i *Identity) SavePEM(path string) error {
	block := &pem.Block{Type: pemTypeEd25519Private, Bytes: i.priv.Seed()}
	return atomicWriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// LoadPEM 从 PEM 文件加载身份
func LoadPEM(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private || len(block.Bytes) != ed25519.SeedSize {
		return nil, ErrInvalidPEM
	}
	return FromSeed(block.Bytes)
}

// LoadOrCreate 加载身份，文件不存在时生成并保存
func LoadOrCreate(path string) (*Identity, error) {
	id, err := LoadPEM(path)
	if err == nil {
		return id, nil
	}
	if err != ErrKeyNotFound {
		return nil, err
	}
	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := id.SavePEM(path); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	logger.Info("已生成新身份", "id", id.ID().ShortString(), "path", path)
	return id, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
