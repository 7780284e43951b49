// Package log 提供 discv5 统一日志接口
//
// 基于标准库 log/slog 封装，每个子系统通过 Logger(component) 获取懒加载 logger，
// 日志调用时才解析当前的默认 handler，支持运行时切换输出。
//
// 环境变量:
//
//	# 全局 info，session 子系统 debug
//	DISCV5_LOG_LEVEL=discovery/session=debug,info
//
//	# JSON 格式输出
//	DISCV5_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	// EnvLogLevel 日志级别环境变量
	EnvLogLevel = "DISCV5_LOG_LEVEL"

	// EnvLogFormat 日志格式环境变量（text / json）
	EnvLogFormat = "DISCV5_LOG_FORMAT"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	levelsOnce sync.Once
	globalLvl  = LevelInfo
	subsystems map[string]slog.Level
)

// ============================================================================
//                              全局设置
// ============================================================================

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// SetOutput 设置日志输出目标与级别
func SetOutput(w io.Writer, level slog.Level) {
	slog.SetDefault(newLogger(w, level, os.Getenv(EnvLogFormat)))
}

// Discard 丢弃所有日志输出（测试用）
func Discard() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLevels 解析 DISCV5_LOG_LEVEL
//
// 格式: "sub1=debug,sub2=warn,info"，不带 '=' 的项为全局级别。
func parseLevels(levels string) (slog.Level, map[string]slog.Level) {
	global := LevelInfo
	subs := make(map[string]slog.Level)
	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, lvl, found := strings.Cut(part, "=")
		if !found {
			global = parseLevel(name, global)
			continue
		}
		subs[strings.TrimSpace(name)] = parseLevel(lvl, global)
	}
	return global, subs
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return fallback
	}
	return lvl
}

func levelFor(component string) slog.Level {
	levelsOnce.Do(func() {
		globalLvl, subsystems = parseLevels(os.Getenv(EnvLogLevel))
	})
	if lvl, ok := subsystems[component]; ok {
		return lvl
	}
	return globalLvl
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 使用方式：
//
//	var logger = log.Logger("discovery/kbucket")
//	logger.Debug("节点已插入", "id", id.ShortString())
type LazyLogger struct {
	component string
	level     slog.Level
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component, level: levelFor(component)}
}

func (l *LazyLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if level < l.level {
		return
	}
	slog.Default().With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.log(context.Background(), LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.log(context.Background(), LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return slog.Default().With("component", l.component).With(args...)
}

func init() {
	slog.SetDefault(newLogger(os.Stderr, LevelDebug, os.Getenv(EnvLogFormat)))
}
