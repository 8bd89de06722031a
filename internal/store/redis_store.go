package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adforge/api/internal/model"
)

// brand reference images stay warm for reuse across campaigns
const brandImageTTL = 30 * 24 * time.Hour

// RedisStore implements Store on Redis. Job records are JSON blobs; updates
// go through WATCH so two workers racing on the same job cannot overwrite
// each other silently.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed job store
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func brandImagesKey(brandID string) string {
	return fmt.Sprintf("brand:refimages:%s", brandID)
}

// Create persists a new job record. Jobs are kept without expiry so failed
// runs stay queryable.
func (s *RedisStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Get loads a job record
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Update applies a mutation under WATCH-based compare-and-set
func (s *RedisStore) Update(ctx context.Context, id string, expectedStage model.Stage, apply func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var updated *model.Job

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}

		if expectedStage != "" && job.Stage != expectedStage {
			return ErrConflict
		}

		if err := apply(&job); err != nil {
			return err
		}

		job.Version++
		job.UpdatedAt = time.Now()

		payload, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &job
		return nil
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

// GetBrandImages returns cached reference images for a brand, nil on miss
func (s *RedisStore) GetBrandImages(ctx context.Context, brandID string) ([]string, error) {
	data, err := s.redis.Get(ctx, brandImagesKey(brandID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load brand images: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal brand images: %w", err)
	}
	return urls, nil
}

// SetBrandImages caches reference images for reuse by later campaigns
func (s *RedisStore) SetBrandImages(ctx context.Context, brandID string, urls []string) error {
	data, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to marshal brand images: %w", err)
	}
	return s.redis.Set(ctx, brandImagesKey(brandID), data, brandImageTTL).Err()
}
