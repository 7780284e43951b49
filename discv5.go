package discv5

import (
	"fmt"
	"sync"

	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/internal/discovery/dht"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
)

var logger = log.Logger("discv5")

// Discv5 节点发现服务
//
// 通过 New 创建，Start 启动，Close 关闭。关闭后不能再次启动。
type Discv5 struct {
	cfg  *config.Config
	opts *options
	app  *fx.App

	// 由 Fx 注入
	svc     *dht.Service
	metrics *metrics.Metrics
	db      interfaces.NodeDB

	mu      sync.Mutex
	started bool
	closed  bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建发现服务
//
// cfg 为 nil 时使用 config.DefaultConfig()。配置在此处校验，
// UDP 监听与节点数据库也在此处打开。
//
// 示例：
//
//	d, err := discv5.New(cfg,
//	    discv5.WithIdentityKeyFile("node.key"),
//	    discv5.WithBootNodes(boot...),
//	)
func New(cfg *config.Config, opts ...Option) (*Discv5, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}

	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	d := &Discv5{cfg: cfg, opts: o}
	app, err := buildFxApp(cfg, o, d)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	d.app = app

	logger.Info("发现服务已创建", "id", d.svc.LocalID().ShortString(), "record", d.svc.LocalRecord())
	return d, nil
}

// Config 返回创建时使用的配置副本
func (d *Discv5) Config() *config.Config {
	return d.cfg.Clone()
}
