package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appfoundry/publisher/pkg/task"
)

const mirrorTTL = 24 * time.Hour

// RedisStore mirrors successful build results into Redis so other instances
// (or a restarted process) can still answer polling requests. It is strictly
// best-effort; the in-memory store remains authoritative.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{redis: client}, nil
}

// Put stores the result under the composite key and appends the key to a
// per-email/task index list so Latest can preserve insertion order.
func (s *RedisStore) Put(ctx context.Context, rec task.Record, res task.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}

	key := rec.Key()
	if err := s.redis.Set(ctx, "result:"+key, data, mirrorTTL).Err(); err != nil {
		return err
	}

	indexKey := "results:" + task.KeyPrefix(rec.Email, rec.Task)
	if err := s.redis.RPush(ctx, indexKey, key).Err(); err != nil {
		return err
	}
	return s.redis.Expire(ctx, indexKey, mirrorTTL).Err()
}

// Get returns the mirrored result for the exact composite key.
func (s *RedisStore) Get(ctx context.Context, key string) (task.Result, bool, error) {
	data, err := s.redis.Get(ctx, "result:"+key).Bytes()
	if err == redis.Nil {
		return task.Result{}, false, nil
	}
	if err != nil {
		return task.Result{}, false, err
	}

	var res task.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return task.Result{}, false, err
	}
	return res, true, nil
}

// Latest walks the index list newest-first and returns the first key that
// still resolves to a stored result.
func (s *RedisStore) Latest(ctx context.Context, email, taskID string) (task.Result, bool, error) {
	indexKey := "results:" + task.KeyPrefix(email, taskID)
	keys, err := s.redis.LRange(ctx, indexKey, 0, -1).Result()
	if err == redis.Nil {
		return task.Result{}, false, nil
	}
	if err != nil {
		return task.Result{}, false, err
	}

	for i := len(keys) - 1; i >= 0; i-- {
		res, ok, err := s.Get(ctx, keys[i])
		if err != nil {
			return task.Result{}, false, err
		}
		if ok {
			return res, true, nil
		}
	}
	return task.Result{}, false, nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
