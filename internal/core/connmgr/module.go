package connmgr

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/config"
)

// Module 滥用过滤器 Fx 模块
var Module = fx.Module("connmgr",
	fx.Provide(ProvideFilter),
)

// Params 过滤器依赖参数
type Params struct {
	fx.In

	Config *config.Config
	Clock  clock.Clock `optional:"true"`
}

// ProvideFilter 按统一配置创建过滤器
//
// 清理循环由发现服务运行。
func ProvideFilter(p Params) (*Filter, error) {
	return NewFilter(p.Config.Filter, p.Clock)
}
