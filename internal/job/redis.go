package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisRepository implements Repository.
var _ Repository = (*RedisRepository)(nil)

const (
	// DefaultRedisPrefix namespaces job keys.
	DefaultRedisPrefix = "meetnote:job:"
	// DefaultRedisTTL bounds how long finished jobs are kept.
	DefaultRedisTTL = 24 * time.Hour

	fieldJob    = "job"
	fieldStatus = "status"
	scanBatch   = 100
)

// RedisRepository stores each job as a hash under prefix+id. The "job"
// field holds the JSON document and "status" mirrors Job.Status so it can
// be read with HGET alone.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisRepository.
type RedisOption func(*RedisRepository)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisTTL sets the key expiry. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRepository) {
		r.ttl = ttl
	}
}

// NewRedisRepository creates a repository on top of client.
func NewRedisRepository(client *redis.Client, opts ...RedisOption) *RedisRepository {
	r := &RedisRepository{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    DefaultRedisTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

// Save writes the job document and refreshes the key expiry.
func (r *RedisRepository) Save(ctx context.Context, job *Job) error {
	snapshot := job.Clone()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", snapshot.ID, err)
	}

	key := r.key(snapshot.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fieldJob, data, fieldStatus, string(snapshot.Status))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis HSET %s: %w", key, err)
	}
	return nil
}

// FindByID reads and decodes the job document.
func (r *RedisRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	key := r.key(id)
	val, err := r.client.HGet(ctx, key, fieldJob).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("redis HGET %s %s: %w", key, fieldJob, err)
	}
	return decodeJob(val)
}

// List scans every key under the prefix. Keys that expire between SCAN and
// HGET are skipped.
func (r *RedisRepository) List(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), r.prefix)
		job, err := r.FindByID(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN %s*: %w", r.prefix, err)
	}

	sortNewestFirst(jobs)
	return jobs, nil
}

// Delete removes the job key.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	key := r.key(id)
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func decodeJob(val string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
