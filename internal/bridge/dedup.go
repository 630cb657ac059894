package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup 记录已经生效的消息 ID，带过期时间
type Dedup interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type redisDedup struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDedup(rdb *redis.Client, prefix string, ttl time.Duration) Dedup {
	return &redisDedup{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (d *redisDedup) key(id string) string {
	return fmt.Sprintf("%s:dedup:%s", d.prefix, id)
}

func (d *redisDedup) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(id)).Result()
	return n > 0, err
}

func (d *redisDedup) Mark(ctx context.Context, id string) error {
	return d.rdb.SetNX(ctx, d.key(id), 1, d.ttl).Err()
}

type memoryDedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDedup(ttl time.Duration) Dedup {
	return &memoryDedup{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *memoryDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.seen[id]
	if !ok {
		return false, nil
	}
	if d.now().After(exp) {
		delete(d.seen, id)
		return false, nil
	}
	return true, nil
}

func (d *memoryDedup) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	// 顺带清理过期项
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; !ok {
		d.seen[id] = now.Add(d.ttl)
	}
	return nil
}
