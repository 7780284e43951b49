package discv5

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期常量
// ════════════════════════════════════════════════════════════════════════════

const (
	// initializeTimeout Fx App 启动超时
	initializeTimeout = 30 * time.Second

	// shutdownTimeout Fx App 停止超时
	shutdownTimeout = 15 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期管理
// ════════════════════════════════════════════════════════════════════════════

// Start 启动发现服务
//
// 加载引导节点与节点数据库中的种子，启动数据包、查询、事件、
// 存活检查与可达性循环。
func (d *Discv5) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.started {
		return ErrAlreadyStarted
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := d.app.Start(initCtx); err != nil {
		logger.Error("发现服务启动失败", "error", err)
		return fmt.Errorf("start: %w", err)
	}
	d.started = true
	logger.Info("发现服务已启动", "id", d.svc.LocalID().ShortString())
	return nil
}

// Close 关闭发现服务，可多次调用
//
// 进行中的查询返回错误，订阅通道被关闭，传输与节点数据库被释放。
func (d *Discv5) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if !d.started {
		// 未启动时 Fx 停止钩子不会执行
		err := d.svc.Close()
		if d.opts.nodeDB == nil && d.db != nil {
			err = multierr.Append(err, d.db.Close())
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.app.Stop(ctx); err != nil {
		logger.Warn("关闭发现服务时出错", "error", err)
		return fmt.Errorf("close: %w", err)
	}
	logger.Info("发现服务已关闭")
	return nil
}
