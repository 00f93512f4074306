// Package cache implements a thin Redis read-through cache for Video rows
// and job progress snapshots. The video details endpoint reads and fills
// the Video entries; the job-progress entries are only cleared, on delete.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// Cache provides read-through caching over Redis.
type Cache struct {
	client *redis.Client
}

// New dials Redis and constructs a Cache.
func New(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewWithClient builds a Cache around an existing client, used by tests
// against miniredis.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks Redis reachability.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func videoKey(id string) string { return "cache:video:" + id }
func jobKey(videoID string) string { return "cache:job:" + videoID }

// SetVideo caches a Video's current row.
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal video: %w", err)
	}
	return c.client.Set(ctx, videoKey(video.ID), data, ttl).Err()
}

// GetVideo returns the cached Video, or (nil, nil) on a cache miss.
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	data, err := c.client.Get(ctx, videoKey(videoID)).Bytes()
	if err == redis.Nil {
		metrics.RecordCacheAccess("video", false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: failed to get video %s: %w", videoID, err)
	}
	metrics.RecordCacheAccess("video", true)
	var video models.Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("cache: failed to unmarshal video %s: %w", videoID, err)
	}
	return &video, nil
}

// InvalidateVideo removes a Video from the cache. Only the delete handler
// calls it; status and metadata updates are not invalidated, so a cached
// row can be stale for up to its TTL.
func (c *Cache) InvalidateVideo(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, videoKey(videoID)).Err()
}

// SetJobProgress caches a job's progress snapshot, keyed by its video.
// No handler or worker calls it; the status endpoint reads progress from
// the repository.
func (c *Cache) SetJobProgress(ctx context.Context, videoID string, progress models.ProgressDetail, ttl time.Duration) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal progress: %w", err)
	}
	return c.client.Set(ctx, jobKey(videoID), data, ttl).Err()
}

// GetJobProgress returns the cached progress snapshot, or (nil, nil) on a
// cache miss.
func (c *Cache) GetJobProgress(ctx context.Context, videoID string) (*models.ProgressDetail, error) {
	data, err := c.client.Get(ctx, jobKey(videoID)).Bytes()
	if err == redis.Nil {
		metrics.RecordCacheAccess("job_progress", false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: failed to get job progress for %s: %w", videoID, err)
	}
	metrics.RecordCacheAccess("job_progress", true)
	var progress models.ProgressDetail
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("cache: failed to unmarshal job progress for %s: %w", videoID, err)
	}
	return &progress, nil
}

// InvalidateJobProgress removes a cached progress snapshot; the delete
// handler calls it when a video is removed.
func (c *Cache) InvalidateJobProgress(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, jobKey(videoID)).Err()
}
