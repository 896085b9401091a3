package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config 描述进程日志与审计日志的输出行为。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制意图执行审计日志。审计日志独立于进程日志落盘，
// 记录每一次链上操作的终态，供对账与争议排查使用。
type AuditConfig struct {
	Enabled   bool
	Path      string
	RotateMB  int
	KeepFiles int
	KeepDays  int
}

var global struct {
	mu      sync.Mutex
	ready   bool
	process *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

// Init 初始化全局日志。重复调用是空操作，首次失败后允许重试。
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.ready {
		return nil
	}

	sink, procClosers, err := openSink(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: levelFromName(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(sink, opts)
	} else {
		handler = slog.NewJSONHandler(sink, opts)
	}
	process := slog.New(handler)

	audit := process.With(slog.String("channel", "audit"))
	if cfg.Audit.Enabled {
		trail, err := newAuditTrailWriter(cfg.Audit.Path, cfg.Audit.RotateMB, cfg.Audit.KeepFiles, cfg.Audit.KeepDays)
		if err != nil {
			closeAll(procClosers)
			return err
		}
		procClosers = append(procClosers, trail)
		// 审计通道固定 JSON 输出且不受进程日志级别影响：
		// 调低进程日志不能丢审计记录。
		audit = slog.New(slog.NewJSONHandler(trail, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	global.process = process
	global.audit = audit
	global.closers = procClosers
	global.ready = true
	return nil
}

// L 返回进程日志。未初始化时退化为 stdout JSON 输出。
func L() *slog.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if !global.ready {
		global.process = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		global.audit = global.process.With(slog.String("channel", "audit"))
		global.ready = true
	}
	return global.process
}

// Audit 返回审计日志通道。
func Audit() *slog.Logger {
	L()
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.audit
}

// Named 返回带组件名标签的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭所有文件型输出。进程退出前调用一次。
func Sync() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	err := closeAll(global.closers)
	global.closers = nil
	return err
}

// openSink 打开全部输出目标并合并为单个 io.Writer。
// 空列表默认写 stdout。
func openSink(paths []string) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	var closers []io.Closer
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
			}
			writers = append(writers, file)
			closers = append(closers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], closers, nil
	}
	return io.MultiWriter(writers...), closers, nil
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	return err
}

func levelFromName(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
