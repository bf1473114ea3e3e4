package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/ragforge/ragforge/backend/pkg/errors"
)

// FileStore 上传文件存储
type FileStore interface {
	// Save 写入文件, 返回相对存储路径与实际字节数
	Save(knowledgeID uint, fileName string, r io.Reader) (string, int64, error)
	// Open 打开文件用于读取
	Open(relPath string) (io.ReadSeekCloser, error)
	// Delete 删除文件, 文件不存在视为成功
	Delete(relPath string) error
	// Size 返回文件字节数
	Size(relPath string) (int64, error)
	// AbsPath 返回文件的绝对路径, 解析器按路径打开文件
	AbsPath(relPath string) (string, error)
}

// LocalStore 本地磁盘存储
// 布局: {root}/{knowledge_id}/{YYYYMMDD}/{uuid}.{ext}
type LocalStore struct {
	root        string
	maxFileSize int64
	logger      *zap.Logger
}

// NewLocalStore 创建本地存储, root 不存在时创建
func NewLocalStore(root string, maxFileSize int64, logger *zap.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{
		root:        abs,
		maxFileSize: maxFileSize,
		logger:      logger.Named("storage"),
	}, nil
}

var _ FileStore = (*LocalStore)(nil)

// Save 写入文件; 超过大小上限时中断写入并清理残留
func (s *LocalStore) Save(knowledgeID uint, fileName string, r io.Reader) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	relPath := filepath.Join(
		fmt.Sprintf("%d", knowledgeID),
		time.Now().Format("20060102"),
		uuid.NewString()+ext,
	)
	absPath := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("create storage dir: %w", err)
	}

	f, err := os.Create(absPath)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	// 多读 1 字节探测超限
	n, err := io.Copy(f, io.LimitReader(r, s.maxFileSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(absPath)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	if n > s.maxFileSize {
		os.Remove(absPath)
		return "", 0, domainErrors.NewPayloadTooLargeError(
			fmt.Sprintf("文件超过大小上限 %d 字节", s.maxFileSize))
	}

	s.logger.Debug("file stored",
		zap.String("path", relPath),
		zap.Int64("size", n),
		zap.Uint("knowledge_id", knowledgeID))
	return relPath, n, nil
}

// Open 打开文件; 拒绝越出存储根目录的路径
func (s *LocalStore) Open(relPath string) (io.ReadSeekCloser, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainErrors.NewNotFoundError("文件不存在")
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete 删除文件, 文件不存在视为成功
func (s *LocalStore) Delete(relPath string) error {
	abs, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Size 返回文件字节数
func (s *LocalStore) Size(relPath string) (int64, error) {
	abs, err := s.resolve(relPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domainErrors.NewNotFoundError("文件不存在")
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// AbsPath 返回文件的绝对路径, 供解析 worker 直接读盘
func (s *LocalStore) AbsPath(relPath string) (string, error) {
	return s.resolve(relPath)
}

func (s *LocalStore) resolve(relPath string) (string, error) {
	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", domainErrors.NewInvalidInputError("非法文件路径")
	}
	return filepath.Join(s.root, cleaned), nil
}
