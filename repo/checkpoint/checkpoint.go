package checkpoint

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/compose"

	"github.com/hildam/deerflow/entity/conf"
)

// Store 线程检查点存储，用 threadID 进行索引，值为序列化后的检查点
type Store = compose.CheckPointStore

// Closer 释放存储占用的连接等资源
type Closer func()

// New 根据配置创建检查点存储
func New(ctx context.Context, cfg *conf.CheckpointConfig) (Store, Closer, error) {
	switch cfg.Type {
	case "", "memory":
		store, err := NewMemory(cfg.CacheSize)
		return store, func() {}, err
	case "file":
		store, err := NewFile(cfg.Dir)
		return store, func() {}, err
	case "nats":
		store, err := NewNats(ctx, cfg.NatsURL, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		slog.Error("checkpoint.New failed, unknown type = %s", cfg.Type)
		return nil, nil, fmt.Errorf("unknown checkpoint store type %q", cfg.Type)
	}
}
