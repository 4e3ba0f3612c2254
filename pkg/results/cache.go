package results

import (
	"context"
	"log"

	"github.com/appfoundry/publisher/pkg/task"
)

// Cache is the shared result store handed to the orchestrator and the HTTP
// layer. Writes always land in memory; a configured Redis mirror is written
// through on success and consulted when memory has no entry.
type Cache struct {
	mem   *MemStore
	redis *RedisStore
}

// NewCache builds a cache around a fresh memory store. mirror may be nil.
func NewCache(mirror *RedisStore) *Cache {
	return &Cache{mem: NewMemStore(), redis: mirror}
}

// Put records a successful build outcome. Mirror failures are logged, never
// surfaced: losing the mirror must not fail a build.
func (c *Cache) Put(ctx context.Context, rec task.Record, res task.Result) {
	c.mem.Put(rec.Key(), res)
	if c.redis != nil {
		if err := c.redis.Put(ctx, rec, res); err != nil {
			log.Printf("redis mirror write failed for %s: %v", rec.Key(), err)
		}
	}
}

// PutFailed records a failed asynchronous build so pollers can tell failure
// from pending. Failed entries stay in memory only.
func (c *Cache) PutFailed(key string, res task.Result) {
	c.mem.Put(key, res)
}

// Get performs an exact lookup when nonce is set, otherwise returns the most
// recently inserted entry for the email/task pair.
func (c *Cache) Get(ctx context.Context, email, taskID, nonce string) (task.Result, bool) {
	if nonce != "" {
		key := task.Key(email, taskID, nonce)
		if res, ok := c.mem.Get(key); ok {
			return res, true
		}
		if c.redis != nil {
			res, ok, err := c.redis.Get(ctx, key)
			if err != nil {
				log.Printf("redis mirror read failed for %s: %v", key, err)
				return task.Result{}, false
			}
			return res, ok
		}
		return task.Result{}, false
	}

	if res, ok := c.mem.Latest(email, taskID); ok {
		return res, true
	}
	if c.redis != nil {
		res, ok, err := c.redis.Latest(ctx, email, taskID)
		if err != nil {
			log.Printf("redis mirror scan failed for %s:%s: %v", email, taskID, err)
			return task.Result{}, false
		}
		return res, ok
	}
	return task.Result{}, false
}
