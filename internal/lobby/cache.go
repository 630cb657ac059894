package lobby

import (
	"context"
	"time"

	"BlockJack/internal/storage"
)

// Cache 已注册房间的本地缓存。持久层降级时新建的房间只在这里可见
type Cache interface {
	Put(ctx context.Context, room storage.Room, ttl time.Duration) error
	// Get 不存在时 ok 为 false
	Get(ctx context.Context, id string) (room storage.Room, ok bool, err error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]storage.Room, error)
}
