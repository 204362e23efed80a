package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/config"
)

// Open builds the configured backend. With auto provisioning on, a namespace
// is created for every topic. offsetTopics restricts the cursor store; nil
// accepts any topic.
func Open(ctx context.Context, cfg config.StoreConfig, topics, offsetTopics []string, logger *zap.Logger) (Backend, error) {
	var backend Backend
	switch cfg.Backend {
	case config.BackendMongo:
		ms, err := NewMongoStore(ctx, MongoConfig{
			URI:          cfg.URI,
			Database:     cfg.Database,
			Username:     cfg.Username,
			Password:     cfg.Password,
			AuthSource:   cfg.AuthSource,
			Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
			OffsetTopics: offsetTopics,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = ms
	case config.BackendMemory, "":
		backend = NewMemoryStore(logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.AutoProvision {
		for _, topic := range topics {
			if err := backend.Provision(ctx, topic); err != nil {
				_ = backend.Close(context.Background())
				return nil, fmt.Errorf("provision %q: %w", topic, err)
			}
		}
	}
	return backend, nil
}
