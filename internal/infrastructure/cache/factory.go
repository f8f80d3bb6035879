package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
)

// Store is the lookup cache the clients and services depend on.
type Store interface {
	GetRecordTypeID(ctx context.Context, developerName string) (string, bool)
	SetRecordTypeID(ctx context.Context, developerName, id string)
	GetComboKeys(ctx context.Context, email string) ([]string, bool)
	SetComboKeys(ctx context.Context, email string, keys []string)
	Close() error
}

// NewStore builds a Redis-backed store, falling back to an in-memory store
// when Redis is unreachable. The fallback keeps the portal serving; only
// cross-instance cache sharing is lost.
func NewStore(cfg config.RedisConfig, logger *zap.Logger) Store {
	if cfg.Host != "" {
		store, err := NewRedisStore(cfg, logger)
		if err == nil {
			logger.Info("Using Redis lookup cache",
				zap.String("host", cfg.Host),
				zap.Int("port", cfg.Port))
			return store
		}
		logger.Warn("Redis unavailable, falling back to in-memory lookup cache", zap.Error(err))
	}
	return NewMemoryStore(cfg.RecordTypeTTL, cfg.ComboKeyTTL)
}
