// Package main 提供 discv5 命令行入口
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Golem-Base/discv5"
	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/discovery/dht"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("discv5/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置（限速、超时、引导节点等）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile     = flag.String("config", "", "配置文件路径")
	preset         = flag.String("preset", discv5.PresetNameDefault, "预设配置 (default/server/test)")
	listenAddr     = flag.String("listen", "", "UDP 监听地址，例如 0.0.0.0:9000")
	identityFile   = flag.String("identity", "", "身份密钥文件路径")
	dataDir        = flag.String("data-dir", "", "数据目录（空 = 内存节点数据库）")
	metricsAddr    = flag.String("metrics", "", "Prometheus 指标 HTTP 地址，例如 127.0.0.1:9100")
	lookupInterval = flag.Duration("lookup-interval", 30*time.Second, "随机查询间隔（0 = 不查询）")
	printRecord    = flag.Bool("print-record", false, "输出本地记录的引导节点编码后退出")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	var opts []discv5.Option
	if *identityFile != "" {
		opts = append(opts, discv5.WithIdentityKeyFile(*identityFile))
	}

	reg := prometheus.NewRegistry()
	opts = append(opts, discv5.WithMetricsRegisterer(reg))

	d, err := discv5.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("创建失败: %w", err)
	}
	defer func() { _ = d.Close() }()

	if *printRecord {
		enc, err := dht.EncodeBootNode(d.LocalRecord())
		if err != nil {
			return err
		}
		fmt.Println(enc)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	printNodeInfo(d)

	if *metricsAddr != "" {
		go serveMetrics(ctx, *metricsAddr, reg)
	}
	if *lookupInterval > 0 {
		go lookupLoop(ctx, d, *lookupInterval)
	}

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildConfig 构建配置
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 环境变量（DISCV5_* 前缀）
//  3. 配置文件
//  4. 预设默认值
func buildConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = discv5.GetConfigByPreset(*preset)
	}
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	return cfg, cfg.Validate()
}

// lookupLoop 定期查询随机目标以填充路由表
func lookupLoop(ctx context.Context, d *discv5.Discv5, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var target types.NodeID
		_, _ = rand.Read(target[:])
		records, err := d.FindNode(ctx, target)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("随机查询失败", "err", err)
		} else {
			logger.Info("随机查询完成", "found", len(records), "table", len(d.TableEntries()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// serveMetrics 提供 Prometheus 指标
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("指标服务已启动", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("指标服务退出", "err", err)
	}
}

func printNodeInfo(d *discv5.Discv5) {
	rec := d.LocalRecord()
	enc, _ := dht.EncodeBootNode(rec)
	fmt.Println("════════════════════════════════════════════════════════")
	fmt.Printf("  节点 ID:  %s\n", rec.ID)
	fmt.Printf("  端点:     %s\n", rec.UDPAddr())
	fmt.Printf("  序号:     %d\n", rec.Seq)
	fmt.Printf("  路由表:   %d\n", len(d.TableEntries()))
	fmt.Printf("  记录:     %s\n", enc)
	fmt.Println("════════════════════════════════════════════════════════")
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
