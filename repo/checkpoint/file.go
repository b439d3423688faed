package checkpoint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// file 每个线程一个文件，写入先落临时文件再原子替换
type file struct {
	dir string
}

// NewFile 创建文件检查点存储
func NewFile(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("checkpoint dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewFile failed, mkdir err: %w", err)
	}
	return &file{dir: dir}, nil
}

func (f *file) path(checkPointID string) string {
	return filepath.Join(f.dir, encodeKey(checkPointID)+".json")
}

func (f *file) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(checkPointID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, true, nil
}

func (f *file) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(checkPoint); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(checkPointID)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// encodeKey 线程ID由调用方传入，编码后才能安全用作文件名或 KV 键
func encodeKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}
