package storage

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

func newTestStore(t *testing.T, maxSize int64) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), maxSize, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestLocalStoreSaveAndOpen(t *testing.T) {
	s := newTestStore(t, 1024)

	relPath, size, err := s.Save(3, "报告.pdf", strings.NewReader("文件内容"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if size != int64(len("文件内容")) {
		t.Errorf("size = %d", size)
	}
	wantPrefix := filepath.Join("3", time.Now().Format("20060102")) + string(filepath.Separator)
	if !strings.HasPrefix(relPath, wantPrefix) {
		t.Errorf("path = %q, want prefix %q", relPath, wantPrefix)
	}
	if !strings.HasSuffix(relPath, ".pdf") {
		t.Errorf("path = %q, extension not kept", relPath)
	}

	f, err := s.Open(relPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "文件内容" {
		t.Errorf("content = %q", data)
	}
}

func TestLocalStoreRejectsOversized(t *testing.T) {
	s := newTestStore(t, 10)

	_, _, err := s.Save(1, "big.txt", strings.NewReader(strings.Repeat("x", 11)))
	if err == nil {
		t.Fatal("expected error for oversized file")
	}
	if !strings.Contains(err.Error(), "PAYLOAD_TOO_LARGE") {
		t.Errorf("err = %v, want payload too large", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := newTestStore(t, 1024)

	if _, err := s.Open("../../etc/passwd"); !domainErrors.IsInvalidInput(err) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestLocalStoreDeleteIdempotent(t *testing.T) {
	s := newTestStore(t, 1024)

	relPath, _, err := s.Save(1, "a.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(relPath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(relPath); err != nil {
		t.Fatalf("second Delete must be a no-op: %v", err)
	}
	if _, err := s.Open(relPath); err == nil {
		t.Error("file still readable after delete")
	}
}
