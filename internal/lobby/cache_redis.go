package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"BlockJack/internal/storage"
)

type redisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

// key 约定：
//
//	kv : lobby:room:{id}  -> 房间 JSON，带 TTL
//	set: lobby:rooms      -> 房间 id 索引，List 时顺带清理已过期的 id
const roomIndexKey = "lobby:rooms"

func roomKey(id string) string {
	return fmt.Sprintf("lobby:room:%s", id)
}

func (r *redisCache) Put(ctx context.Context, room storage.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	p := r.rdb.TxPipeline()
	p.Set(ctx, roomKey(room.ID), data, ttl)
	p.SAdd(ctx, roomIndexKey, room.ID)
	_, err = p.Exec(ctx)
	return err
}

func (r *redisCache) Get(ctx context.Context, id string) (storage.Room, bool, error) {
	data, err := r.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.Room{}, false, nil
	}
	if err != nil {
		return storage.Room{}, false, err
	}
	var room storage.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return storage.Room{}, false, err
	}
	return room, true, nil
}

func (r *redisCache) Delete(ctx context.Context, id string) error {
	p := r.rdb.TxPipeline()
	p.Del(ctx, roomKey(id))
	p.SRem(ctx, roomIndexKey, id)
	_, err := p.Exec(ctx)
	return err
}

func (r *redisCache) List(ctx context.Context) ([]storage.Room, error) {
	ids, err := r.rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.Room{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]storage.Room, 0, len(vals))
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var room storage.Room
		if err := json.Unmarshal([]byte(s), &room); err != nil {
			continue
		}
		out = append(out, room)
	}
	if len(stale) > 0 {
		_ = r.rdb.SRem(ctx, roomIndexKey, stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
