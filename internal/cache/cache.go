/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nathanielasun/songbase/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultSmartPlaylistListTTL = 5 * time.Minute
	DefaultSmartPlaylistTTL     = 1 * time.Hour
	DefaultMaterializationTTL   = 10 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeySmartPlaylistList = "songbase:cache:smart_playlists"
	KeySmartPlaylist     = "songbase:cache:smart_playlist:"  // + smart_playlist_id
	KeyMaterialization   = "songbase:cache:materialization:" // + smart_playlist_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SmartPlaylistListTTL time.Duration
	SmartPlaylistTTL     time.Duration
	MaterializationTTL   time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:            "localhost:6379",
		SmartPlaylistListTTL: DefaultSmartPlaylistListTTL,
		SmartPlaylistTTL:     DefaultSmartPlaylistTTL,
		MaterializationTTL:   DefaultMaterializationTTL,
		DisableOnError:       true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	telemetry.CacheOperationsTotal.WithLabelValues("error").Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		telemetry.CacheOperationsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	telemetry.CacheOperationsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Smart playlist caching methods

// CachedSmartPlaylist represents a cached smart playlist record.
type CachedSmartPlaylist struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Document        map[string]any `json:"document"`
	SortBy          string         `json:"sort_by"`
	SortOrder       string         `json:"sort_order"`
	Limit           *int           `json:"limit"`
	LastEvaluatedAt *time.Time     `json:"last_evaluated_at"`
}

// GetSmartPlaylist retrieves a cached smart playlist by ID.
func (c *Cache) GetSmartPlaylist(ctx context.Context, id string) (*CachedSmartPlaylist, bool) {
	var sp CachedSmartPlaylist
	found, err := c.get(ctx, KeySmartPlaylist+id, &sp)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("smart_playlist_id", id).Msg("smart playlist cache hit")
	return &sp, true
}

// SetSmartPlaylist caches a smart playlist.
func (c *Cache) SetSmartPlaylist(ctx context.Context, sp *CachedSmartPlaylist) error {
	c.logger.Debug().Str("smart_playlist_id", sp.ID).Msg("caching smart playlist")
	return c.set(ctx, KeySmartPlaylist+sp.ID, sp, c.config.SmartPlaylistTTL)
}

// GetSmartPlaylistList retrieves the cached list of smart playlists.
func (c *Cache) GetSmartPlaylistList(ctx context.Context) ([]CachedSmartPlaylist, bool) {
	var list []CachedSmartPlaylist
	found, err := c.get(ctx, KeySmartPlaylistList, &list)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(list)).Msg("smart playlist list cache hit")
	return list, true
}

// SetSmartPlaylistList caches the list of smart playlists.
func (c *Cache) SetSmartPlaylistList(ctx context.Context, list []CachedSmartPlaylist) error {
	c.logger.Debug().Int("count", len(list)).Msg("caching smart playlist list")
	return c.set(ctx, KeySmartPlaylistList, list, c.config.SmartPlaylistListTTL)
}

// Materialization caching methods

// CachedMaterialization represents the cached result of a materialization.
type CachedMaterialization struct {
	SmartPlaylistID string    `json:"smart_playlist_id"`
	SongIDs         []string  `json:"song_ids"`
	TotalMatches    int       `json:"total_matches"`
	Warnings        []string  `json:"warnings"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// GetMaterialization retrieves a cached materialization by smart playlist ID.
func (c *Cache) GetMaterialization(ctx context.Context, id string) (*CachedMaterialization, bool) {
	var mat CachedMaterialization
	found, err := c.get(ctx, KeyMaterialization+id, &mat)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("smart_playlist_id", id).Msg("materialization cache hit")
	return &mat, true
}

// SetMaterialization caches a materialization result.
func (c *Cache) SetMaterialization(ctx context.Context, mat *CachedMaterialization) error {
	c.logger.Debug().Str("smart_playlist_id", mat.SmartPlaylistID).Msg("caching materialization")
	return c.set(ctx, KeyMaterialization+mat.SmartPlaylistID, mat, c.config.MaterializationTTL)
}

// Invalidation

// InvalidateSmartPlaylist removes one smart playlist and its materialization
// from cache, along with the list.
func (c *Cache) InvalidateSmartPlaylist(ctx context.Context, id string) error {
	c.logger.Debug().Str("smart_playlist_id", id).Msg("invalidating smart playlist caches")

	if err := c.delete(ctx, KeySmartPlaylist+id); err != nil {
		return err
	}
	if err := c.delete(ctx, KeyMaterialization+id); err != nil {
		return err
	}
	return c.delete(ctx, KeySmartPlaylistList)
}

// InvalidateMaterializations removes every cached materialization. Called when
// the catalog changes, since any rule's result may now differ.
func (c *Cache) InvalidateMaterializations(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating all materialization caches")
	return c.deletePattern(ctx, KeyMaterialization+"*")
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "songbase:cache:*")
}
