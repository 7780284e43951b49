package dht

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/mr-tron/base58"
	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/connmgr"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// Module 发现服务 Fx 模块
var Module = fx.Module("discovery_dht",
	fx.Provide(
		NewFromParams,
	),
	fx.Invoke(registerLifecycle),
)

// Params 服务依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config
	Identity   interfaces.Identity
	Verifier   interfaces.RecordVerifier
	Transport  interfaces.Transport

	Signer      interfaces.RecordSigner `optional:"true"`
	NodeDB      interfaces.NodeDB       `optional:"true"`
	Filter      *connmgr.Filter         `optional:"true"`
	TableFilter kbucket.Filter          `optional:"true"`
	Metrics     *metrics.Metrics        `optional:"true"`
	Clock       clock.Clock             `optional:"true"`
	LocalRecord *types.Record           `name:"local_record" optional:"true"`
	BootNodes   []*types.Record         `name:"boot_nodes" optional:"true"`
}

// NewFromParams 从 Fx 参数创建服务
func NewFromParams(p Params) (*Service, error) {
	cfg, err := ConfigFromUnified(p.UnifiedCfg)
	if err != nil {
		return nil, err
	}
	boot, err := ParseBootNodes(p.UnifiedCfg.BootNodes)
	if err != nil {
		return nil, err
	}

	return New(cfg, Deps{
		Identity:    p.Identity,
		Verifier:    p.Verifier,
		Transport:   p.Transport,
		Signer:      p.Signer,
		LocalRecord: p.LocalRecord,
		NodeDB:      p.NodeDB,
		Filter:      p.Filter,
		TableFilter: p.TableFilter,
		BootNodes:   append(boot, p.BootNodes...),
		Metrics:     p.Metrics,
		Clock:       p.Clock,
	})
}

// bootNodePrefix 引导节点文本前缀，解析时可省略
const bootNodePrefix = "enr:"

// ParseBootNodes 解析 Base58 编码的引导节点记录
func ParseBootNodes(list []string) ([]*types.Record, error) {
	out := make([]*types.Record, 0, len(list))
	for _, s := range list {
		b, err := base58.Decode(strings.TrimPrefix(strings.TrimSpace(s), bootNodePrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: boot node %q: %v", ErrInvalidConfig, s, err)
		}
		rec, err := types.DecodeRecord(b)
		if err != nil {
			return nil, fmt.Errorf("%w: boot node %q: %v", ErrInvalidConfig, s, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// EncodeBootNode 将记录编码为引导节点配置格式
func EncodeBootNode(rec *types.Record) (string, error) {
	b, err := rec.Encode()
	if err != nil {
		return "", err
	}
	return bootNodePrefix + base58.Encode(b), nil
}

// lifecycleParams 生命周期参数
type lifecycleParams struct {
	fx.In

	LC      fx.Lifecycle
	Service *Service
}

// registerLifecycle 注册服务生命周期钩子
func registerLifecycle(p lifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Service.Start(ctx); err != nil {
				logger.Error("发现服务启动失败", "error", err)
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := p.Service.Stop(ctx); err != nil {
				logger.Error("发现服务停止失败", "error", err)
				return err
			}
			return nil
		},
	})
}
