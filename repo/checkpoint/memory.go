package checkpoint

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memory 进程内检查点，超过容量时淘汰最久未访问的线程
type memory struct {
	cache *lru.Cache[string, []byte]
}

// NewMemory 创建内存检查点存储
func NewMemory(size int) (Store, error) {
	if size <= 0 {
		return nil, fmt.Errorf("checkpoint cache size must be positive, got %d", size)
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("NewMemory failed, err: %w", err)
	}
	return &memory{cache: cache}, nil
}

func (m *memory) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	data, ok := m.cache.Get(checkPointID)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *memory) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	m.cache.Add(checkPointID, append([]byte(nil), checkPoint...))
	return nil
}
