// Package cache wraps Redis for gap deduplication fingerprints and dashboard
// snapshot caching. The service degrades gracefully: when Redis is
// unreachable every read misses and every write is a no-op, so the pipeline
// keeps running without it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gap-trading-bot/internal/ops"
)

const (
	gapKeyPrefix = "gap:fp:"
	snapshotKey  = "dashboard:snapshot"
)

// Config holds Redis connection settings
type Config struct {
	Addr        string        `json:"addr"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	SnapshotTTL time.Duration `json:"snapshot_ttl"`
}

// DefaultConfig returns local Redis defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		SnapshotTTL: 30 * time.Second,
	}
}

// Service is the Redis-backed cache
type Service struct {
	client    *redis.Client
	available bool
	config    *Config
	logger    zerolog.Logger
}

// NewService connects to Redis. Connection failure is logged, not fatal.
func NewService(config *Config, logger zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Service{config: config, logger: logger}

	s.client = redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", config.Addr).Msg("redis unavailable, cache disabled")
		return s
	}
	s.available = true
	logger.Info().Str("addr", config.Addr).Msg("cache connected")
	return s
}

// Available reports whether Redis answered the startup ping
func (s *Service) Available() bool {
	return s.available
}

// Seen reports whether a gap fingerprint was marked before. A miss or an
// unavailable cache both return false.
func (s *Service) Seen(ctx context.Context, fingerprint string) (bool, error) {
	if !s.available {
		return false, nil
	}
	err := s.client.Get(ctx, gapKeyPrefix+fingerprint).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache lookup failed: %w", err)
	}
	return true, nil
}

// Mark remembers a gap fingerprint for ttl
func (s *Service) Mark(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if !s.available {
		return nil
	}
	if err := s.client.Set(ctx, gapKeyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("cache mark failed: %w", err)
	}
	return nil
}

// StoreSnapshot caches the dashboard snapshot for fast API reads
func (s *Service) StoreSnapshot(ctx context.Context, snapshot ops.DashboardSnapshot) error {
	if !s.available {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, data, s.config.SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached snapshot, or ok=false on miss or when the
// cache is disabled
func (s *Service) LoadSnapshot(ctx context.Context) (ops.DashboardSnapshot, bool) {
	var snapshot ops.DashboardSnapshot
	if !s.available {
		return snapshot, false
	}
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return snapshot, false
	}
	if err != nil {
		s.logger.Debug().Err(err).Msg("snapshot cache read failed")
		return snapshot, false
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("cached snapshot corrupt")
		return snapshot, false
	}
	return snapshot, true
}

// Close shuts the Redis client down
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
