package discv5

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/connmgr"
	"github.com/Golem-Base/discv5/internal/core/identity"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/core/peerstore/nodedb"
	"github.com/Golem-Base/discv5/internal/core/transport/udp"
	"github.com/Golem-Base/discv5/internal/discovery/dht"
	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var fxLogger = log.Logger("discv5/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置与可选协作方（时钟、指标注册器、传输、节点数据库）
//  2. Core Layer: Identity → Metrics → NodeDB → Filter → Transport
//  3. Discovery Layer: dht.Service
func buildFxApp(cfg *config.Config, o *options, d *Discv5) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(cfg),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 可选协作方
	// ════════════════════════════════════════════════════════════════════════
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if o.privateKey != nil || o.identityKeyFile != "" {
		modules = append(modules, fx.Supply(&identity.Config{
			PrivateKey: o.privateKey,
			KeyPath:    o.identityKeyFile,
		}))
	}
	if o.tableFilter != nil {
		filter := kbucket.FilterFunc(o.tableFilter)
		modules = append(modules, fx.Provide(func() kbucket.Filter { return filter }))
	}
	if len(o.bootNodes) > 0 {
		boot := o.bootNodes
		modules = append(modules, fx.Provide(fx.Annotate(
			func() []*types.Record { return boot },
			fx.ResultTags(`name:"boot_nodes"`),
		)))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		identity.Module, // 身份与记录签名
		metrics.Module,  // Prometheus 指标
		connmgr.Module,  // 滥用过滤器
	)

	if o.nodeDB != nil {
		db := o.nodeDB
		modules = append(modules, fx.Provide(func() interfaces.NodeDB { return db }))
	} else {
		modules = append(modules, nodedb.Module)
	}

	if o.transport != nil {
		tr := o.transport
		modules = append(modules, fx.Provide(func() interfaces.Transport { return tr }))
	} else {
		modules = append(modules, udp.Module)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 发现层
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, dht.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Populate(&d.svc, &d.metrics, &d.db))

	// ════════════════════════════════════════════════════════════════════════
	// 7. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		fxLogger.Error("Fx 应用构建失败", "error", err)
		return nil, err
	}
	return app, nil
}
