package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/HildaM/logs/slog"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket 默认的 KV bucket
const DefaultBucket = "DEERFLOW_CHECKPOINTS"

// NatsStore 基于 JetStream KV 的检查点存储，多实例部署时共享线程状态
type NatsStore struct {
	nc     *nats.Conn
	bucket jetstream.KeyValue
}

// NewNats 连接 NATS 并创建（或复用）KV bucket
func NewNats(ctx context.Context, url, bucket string) (*NatsStore, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(url, nats.Name("deerflow-checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Research workflow thread checkpoints",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	slog.Info("NewNats success, url = %s, bucket = %s", url, bucket)
	return &NatsStore{nc: nc, bucket: kv}, nil
}

func (s *NatsStore) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	entry, err := s.bucket.Get(ctx, encodeKey(checkPointID))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get checkpoint: %w", err)
	}
	return entry.Value(), true, nil
}

func (s *NatsStore) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	if _, err := s.bucket.Put(ctx, encodeKey(checkPointID), checkPoint); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *NatsStore) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
