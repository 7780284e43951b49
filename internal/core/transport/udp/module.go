package udp

import (
	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/pkg/interfaces"
)

// Module UDP 传输 Fx 模块
//
// 传输由发现服务在停止时关闭。
var Module = fx.Module("transport_udp",
	fx.Provide(ProvideTransport),
)

// ProvideTransport 在 ListenAddr 上监听
func ProvideTransport(cfg *config.Config) (interfaces.Transport, error) {
	t, err := Listen(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("UDP 监听已启动", "addr", t.LocalAddr())
	return t, nil
}
