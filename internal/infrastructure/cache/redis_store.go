// Package cache holds lookup caches for slow upstream queries: record type
// ID resolution and per-user entity combo key sets. Caches fail open — a
// cache outage degrades latency, never correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
)

const (
	recordTypeKeyPrefix = "csb:recordtype:"
	comboKeyPrefix      = "csb:combokeys:"
)

// RedisStore is a Redis-backed lookup cache shared across instances.
type RedisStore struct {
	client        *redis.Client
	recordTypeTTL time.Duration
	comboKeyTTL   time.Duration
	logger        *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:        client,
		recordTypeTTL: cfg.RecordTypeTTL,
		comboKeyTTL:   cfg.ComboKeyTTL,
		logger:        logger,
	}, nil
}

// GetRecordTypeID looks up a cached record type ID by developer name.
func (s *RedisStore) GetRecordTypeID(ctx context.Context, developerName string) (string, bool) {
	id, err := s.client.Get(ctx, recordTypeKeyPrefix+developerName).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Record type cache read failed", zap.Error(err))
		}
		return "", false
	}
	return id, true
}

// SetRecordTypeID caches a record type ID. Record types are effectively
// static upstream, so the TTL is long.
func (s *RedisStore) SetRecordTypeID(ctx context.Context, developerName, id string) {
	if err := s.client.Set(ctx, recordTypeKeyPrefix+developerName, id, s.recordTypeTTL).Err(); err != nil {
		s.logger.Warn("Record type cache write failed", zap.Error(err))
	}
}

// GetComboKeys looks up a user's cached combo key set.
func (s *RedisStore) GetComboKeys(ctx context.Context, email string) ([]string, bool) {
	raw, err := s.client.Get(ctx, comboKeyCacheKey(email)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Combo key cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		s.logger.Warn("Combo key cache entry is corrupt", zap.Error(err))
		return nil, false
	}
	return keys, true
}

// SetComboKeys caches a user's combo key set. The TTL is short: SAM.gov
// registration changes must become visible quickly.
func (s *RedisStore) SetComboKeys(ctx context.Context, email string, keys []string) {
	encoded, err := json.Marshal(keys)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, comboKeyCacheKey(email), encoded, s.comboKeyTTL).Err(); err != nil {
		s.logger.Warn("Combo key cache write failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func comboKeyCacheKey(email string) string {
	return comboKeyPrefix + strings.ToLower(email)
}
