package cli

import (
	"context"
	"fmt"

	"github.com/finlearnhub/supportdesk/internal/checkpoint"
	"github.com/finlearnhub/supportdesk/internal/config"
	"github.com/finlearnhub/supportdesk/internal/storage"
)

// openCheckpoints 按配置选择检查点后端，返回的 close 函数总是可调用
func openCheckpoints(ctx context.Context, cc config.CheckpointConfig, store *storage.Storage) (checkpoint.Store, func() error, error) {
	noop := func() error { return nil }
	switch cc.Backend {
	case checkpoint.BackendMemory:
		return checkpoint.NewMemoryStore(), noop, nil
	case checkpoint.BackendSQLite, "":
		s, err := checkpoint.NewSQLStore(store)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite checkpoints: %w", err)
		}
		return s, noop, nil
	case checkpoint.BackendRedis:
		s, err := checkpoint.NewRedisStore(ctx, cc.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("open redis checkpoints: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown checkpoint backend %q (supported: memory, sqlite, redis)", cc.Backend)
	}
}

func openStorage(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}
