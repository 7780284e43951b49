package discv5

import (
	"crypto/ed25519"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 身份配置
	identityKeyFile string
	privateKey      ed25519.PrivateKey

	// 外部协作方，为空时按配置创建
	transport interfaces.Transport
	nodeDB    interfaces.NodeDB
	clock     clock.Clock

	// 发现配置
	bootNodes   []*types.Record
	tableFilter func(*types.Record) bool

	registerer prometheus.Registerer

	// 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// WithPrivateKey 使用指定私钥作为节点身份
func WithPrivateKey(key ed25519.PrivateKey) Option {
	return func(o *options) error {
		if len(key) != ed25519.PrivateKeySize {
			return fmt.Errorf("%w: private key length %d", ErrInvalidOption, len(key))
		}
		o.privateKey = key
		return nil
	}
}

// WithIdentityKeyFile 从 PEM 文件加载身份，文件不存在时生成并保存
func WithIdentityKeyFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("%w: empty key file path", ErrInvalidOption)
		}
		o.identityKeyFile = path
		return nil
	}
}

// WithTransport 使用自定义数据报传输代替 UDP 监听
//
// 传输在 Close 时关闭。
func WithTransport(t interfaces.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return fmt.Errorf("%w: nil transport", ErrInvalidOption)
		}
		o.transport = t
		return nil
	}
}

// WithNodeDB 使用自定义节点数据库代替按存储配置打开的数据库
func WithNodeDB(db interfaces.NodeDB) Option {
	return func(o *options) error {
		o.nodeDB = db
		return nil
	}
}

// WithClock 设置时钟，测试中可注入 clock.NewMock()
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithBootNodes 追加引导节点记录
func WithBootNodes(records ...*types.Record) Option {
	return func(o *options) error {
		for _, rec := range records {
			if rec == nil {
				return fmt.Errorf("%w: nil boot node", ErrInvalidOption)
			}
		}
		o.bootNodes = append(o.bootNodes, records...)
		return nil
	}
}

// WithTableFilter 设置路由表准入谓词，返回 false 的记录不会进入路由表
func WithTableFilter(accept func(*types.Record) bool) Option {
	return func(o *options) error {
		o.tableFilter = accept
		return nil
	}
}

// WithMetricsRegisterer 将指标注册到 reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
