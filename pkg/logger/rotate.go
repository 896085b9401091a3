package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// archiveStamp 是归档文件名的时间戳后缀格式。
const archiveStamp = "20060102T150405.000000000"

// auditTrailWriter 为意图执行审计日志提供按大小轮转的落盘能力。
// 审计文件是排查链上操作争议的依据，轮转时当前文件以时间戳后缀归档，
// 超过保留份数或保留天数的归档被清理，绝不截断正在写入的文件。
type auditTrailWriter struct {
	mu      sync.Mutex
	path    string
	limit   int64
	keep    int
	keepFor time.Duration
	file    *os.File
	written int64
}

func newAuditTrailWriter(path string, rotateMB, keepFiles, keepDays int) (*auditTrailWriter, error) {
	if path == "" {
		return nil, errors.New("审计日志路径不能为空")
	}
	if rotateMB <= 0 {
		rotateMB = 100
	}
	if keepFiles <= 0 {
		keepFiles = 7
	}
	if keepDays <= 0 {
		keepDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}
	return &auditTrailWriter{
		path:    path,
		limit:   int64(rotateMB) * 1024 * 1024,
		keep:    keepFiles,
		keepFor: time.Duration(keepDays) * 24 * time.Hour,
	}, nil
}

// Write 实现 io.Writer。超出单文件上限时先归档再写入，
// 单条审计记录不会被拆到两个文件里。
func (w *auditTrailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openCurrent(); err != nil {
		return 0, err
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.archive(); err != nil {
			return 0, err
		}
		if err := w.openCurrent(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Close 实现 io.Closer。
func (w *auditTrailWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *auditTrailWriter) openCurrent() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开审计日志失败: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("读取审计日志大小失败: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// archive 将当前文件重命名为带时间戳的归档，然后清理过旧的归档。
func (w *auditTrailWriter) archive() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.written = 0

	stamped := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format(archiveStamp))
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, stamped); err != nil {
			return fmt.Errorf("归档审计日志失败: %w", err)
		}
	}
	w.prune()
	return nil
}

// prune 删除超出保留份数或保留期限的归档。时间戳后缀按字典序
// 即按时间排序，最新的排在最后。
func (w *auditTrailWriter) prune() {
	archives, err := filepath.Glob(w.path + ".*")
	if err != nil || len(archives) == 0 {
		return
	}
	sort.Strings(archives)

	if w.keep > 0 && len(archives) > w.keep {
		for _, stale := range archives[:len(archives)-w.keep] {
			_ = os.Remove(stale)
		}
		archives = archives[len(archives)-w.keep:]
	}

	if w.keepFor <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.keepFor)
	for _, archived := range archives {
		info, err := os.Stat(archived)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(archived)
		}
	}
}
