package identity

import (
	"crypto/ed25519"
	"fmt"

	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// Config 身份模块配置
//
// 优先级：PrivateKey > KeyPath > 随机生成。
type Config struct {
	PrivateKey ed25519.PrivateKey
	KeyPath    string
}

// Module 身份 Fx 模块
var Module = fx.Module("identity",
	fx.Provide(ProvideServices),
)

// Params 模块输入
type Params struct {
	fx.In

	Config *Config `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Local    *Identity
	Identity interfaces.Identity
	Signer   interfaces.RecordSigner
	Verifier interfaces.RecordVerifier
}

// ProvideServices 创建或加载身份
func ProvideServices(p Params) (Result, error) {
	var cfg Config
	if p.Config != nil {
		cfg = *p.Config
	}

	var (
		id  *Identity
		err error
	)
	switch {
	case cfg.PrivateKey != nil:
		id, err = New(cfg.PrivateKey)
	case cfg.KeyPath != "":
		id, err = LoadOrCreate(cfg.KeyPath)
	default:
		id, err = Generate()
	}
	if err != nil {
		return Result{}, fmt.Errorf("identity: %w", err)
	}
	logger.Info("本地身份就绪", "id", id.ID().ShortString())

	return Result{
		Local:    id,
		Identity: id,
		Signer:   id,
		Verifier: NewVerifier(),
	}, nil
}
