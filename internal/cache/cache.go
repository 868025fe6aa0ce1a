// Package cache keeps a short-lived Redis snapshot of the active branch list so nearest-branch
// lookups do not hit Postgres on every emergency call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"garage/rescue/internal/config"
	"garage/rescue/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const activeBranchesKey = "branches:active"

var branchCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "garage_branch_cache_total",
		Help: "Active branch snapshot lookups by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(branchCacheTotal)
}

// BranchLoader is the source of truth for active branches.
type BranchLoader interface {
	ListActiveBranches(ctx context.Context) ([]store.Branch, error)
}

// BranchCache serves the active branch snapshot from Redis and falls back to the loader.
// A nil client disables caching entirely.
type BranchCache struct {
	client *redis.Client
	loader BranchLoader
	ttl    time.Duration
	log    zerolog.Logger
}

// Connect opens a Redis client and checks it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	return client, nil
}

// NewBranchCache builds a cache in front of loader.
func NewBranchCache(client *redis.Client, loader BranchLoader, ttl time.Duration, log zerolog.Logger) *BranchCache {
	return &BranchCache{client: client, loader: loader, ttl: ttl, log: log}
}

// ListActiveBranches returns the cached snapshot or reloads it. Redis errors are logged and
// never surface to the caller.
func (c *BranchCache) ListActiveBranches(ctx context.Context) ([]store.Branch, error) {
	if c.client == nil {
		return c.loader.ListActiveBranches(ctx)
	}

	raw, err := c.client.Get(ctx, activeBranchesKey).Bytes()
	switch {
	case err == nil:
		var branches []store.Branch
		if err := json.Unmarshal(raw, &branches); err == nil {
			branchCacheTotal.WithLabelValues("hit").Inc()
			return branches, nil
		}
		c.log.Warn().Err(err).Str("key", activeBranchesKey).Msg("discarding undecodable branch snapshot")
		branchCacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		branchCacheTotal.WithLabelValues("miss").Inc()
	default:
		c.log.Warn().Err(err).Str("key", activeBranchesKey).Msg("redis get failed, loading branches from database")
		branchCacheTotal.WithLabelValues("error").Inc()
	}

	branches, err := c.loader.ListActiveBranches(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(branches); err == nil {
		if err := c.client.Set(ctx, activeBranchesKey, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", activeBranchesKey).Msg("failed to store branch snapshot")
		}
	}
	return branches, nil
}

// Invalidate drops the snapshot after a branch write.
func (c *BranchCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, activeBranchesKey).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", activeBranchesKey).Msg("failed to invalidate branch snapshot")
	}
}

// Health pings Redis when caching is enabled.
func (c *BranchCache) Health(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
