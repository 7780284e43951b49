package nodedb

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/pkg/interfaces"
)

// Open 按存储配置打开节点数据库
//
// DataDir 为空时返回内存数据库。
func Open(cfg config.StorageConfig, clk clock.Clock) (interfaces.NodeDB, error) {
	if cfg.InMemory() {
		return NewMemoryDB(clk, DefaultMaxNodes), nil
	}
	return OpenBadger(cfg.DBPath(), clk)
}

// Params NodeDB 依赖参数
type Params struct {
	fx.In

	Config *config.Config
	Clock  clock.Clock `optional:"true"`
	LC     fx.Lifecycle
}

// Module 是 nodedb 的 Fx 模块
var Module = fx.Module("nodedb",
	fx.Provide(ProvideNodeDB),
)

// ProvideNodeDB 打开节点数据库并在停止时关闭
func ProvideNodeDB(p Params) (interfaces.NodeDB, error) {
	db, err := Open(p.Config.Storage, p.Clock)
	if err != nil {
		return nil, err
	}
	p.LC.Append(fx.StopHook(db.Close))
	return db, nil
}
