// Package cache keeps presigned playback sets for stages in Redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stemflow_playback_cache_lookups_total",
	Help: "Playback cache lookups by result.",
}, []string{"result"})

// PlaybackStem is one downloadable layer of a stage
type PlaybackStem struct {
	VersionStemID uint64 `json:"versionStemId"`
	Identity      string `json:"identity"`
	Category      string `json:"category"`
	URL           string `json:"url"`
}

// PlaybackSet is everything a player needs to reconstruct one stage
type PlaybackSet struct {
	StageID     uint64         `json:"stageId"`
	Version     uint64         `json:"version"`
	GuideURL    string         `json:"guideUrl,omitempty"`
	WaveformURL string         `json:"waveformUrl,omitempty"`
	Stems       []PlaybackStem `json:"stems"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// PlaybackCache stores playback sets per stage. A nil cache is a valid,
// always-missing cache.
type PlaybackCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPlaybackCache connects to Redis and verifies the connection
func NewPlaybackCache(ctx context.Context, cfg *config.Config) (*PlaybackCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// entries expire before the URLs inside them do
	return NewPlaybackCacheWithClient(client, cfg.PresignTTL/2), nil
}

// NewPlaybackCacheWithClient wraps an existing client
func NewPlaybackCacheWithClient(client *redis.Client, ttl time.Duration) *PlaybackCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PlaybackCache{client: client, ttl: ttl}
}

// TTL is how long a cached set lives
func (c *PlaybackCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func playbackKey(stageID uint64) string {
	return fmt.Sprintf("stemflow:playback:stage:%d", stageID)
}

// Get returns the cached set for a stage
func (c *PlaybackCache) Get(ctx context.Context, stageID uint64) (*PlaybackSet, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, playbackKey(stageID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("Playback cache read failed",
				logger.Uint64("stageID", stageID),
				logger.ErrorField(err))
		}
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	var set PlaybackSet
	if err := json.Unmarshal(data, &set); err != nil {
		logger.Warn("Playback cache entry is corrupt",
			logger.Uint64("stageID", stageID),
			logger.ErrorField(err))
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	lookupsTotal.WithLabelValues("hit").Inc()
	return &set, true
}

// Set stores a stage's playback set. Failures are logged only.
func (c *PlaybackCache) Set(ctx context.Context, set *PlaybackSet) {
	if c == nil || set == nil {
		return
	}

	data, err := json.Marshal(set)
	if err != nil {
		logger.Warn("Playback set encode failed", logger.ErrorField(err))
		return
	}
	if err := c.client.Set(ctx, playbackKey(set.StageID), data, c.ttl).Err(); err != nil {
		logger.Warn("Playback cache write failed",
			logger.Uint64("stageID", set.StageID),
			logger.ErrorField(err))
	}
}

// Invalidate drops the cached sets of the given stages
func (c *PlaybackCache) Invalidate(ctx context.Context, stageIDs ...uint64) {
	if c == nil || len(stageIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(stageIDs))
	for _, id := range stageIDs {
		keys = append(keys, playbackKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("Playback cache invalidation failed",
			logger.Int("stages", len(stageIDs)),
			logger.ErrorField(err))
	}
}

// Close releases the Redis connection
func (c *PlaybackCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
