package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditTrailWriterArchivesWhenLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newAuditTrailWriter(path, 1, 7, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	// 压低上限，避免测试写满 1MB。
	writer.limit = 64

	line := bytes.Repeat([]byte("a"), 40)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	archives, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(archives) == 0 {
		t.Fatalf("超过上限后应产生归档文件")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current: %v", err)
	}
	if info.Size() != int64(len(line)) {
		t.Fatalf("当前文件应只含最后一条记录, size=%d", info.Size())
	}
}

func TestAuditTrailWriterPrunesOldArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newAuditTrailWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	writer.limit = 8

	for i := 0; i < 6; i++ {
		if _, err := writer.Write([]byte("12345678")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	archives, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(archives) > 2 {
		t.Fatalf("归档保留份数越界: %d", len(archives))
	}
}

func TestAuditTrailWriterNeverSplitsRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newAuditTrailWriter(path, 1, 7, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	writer.limit = 32

	if _, err := writer.Write(bytes.Repeat([]byte("x"), 30)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	record := bytes.Repeat([]byte("y"), 20)
	if _, err := writer.Write(record); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !bytes.Equal(data, record) {
		t.Fatalf("记录不应跨文件拆分, got %q", data)
	}
}
