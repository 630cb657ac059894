package lobby

import (
	"context"
	"sort"
	"sync"
	"time"

	"BlockJack/internal/storage"
)

type memItem struct {
	room    storage.Room
	expires time.Time
}

type memCache struct {
	mu    sync.Mutex
	rooms map[string]memItem
}

func NewMemoryCache() Cache {
	return &memCache{rooms: make(map[string]memItem)}
}

func (m *memCache) Put(_ context.Context, room storage.Room, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memItem{room: room}
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}
	m.rooms[room.ID] = item
	return nil
}

func (m *memCache) Get(_ context.Context, id string) (storage.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.rooms[id]
	if !ok {
		return storage.Room{}, false, nil
	}
	if item.expired(time.Now()) {
		delete(m.rooms, id)
		return storage.Room{}, false, nil
	}
	return item.room, true, nil
}

func (m *memCache) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	return nil
}

func (m *memCache) List(_ context.Context) ([]storage.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]storage.Room, 0, len(m.rooms))
	for id, item := range m.rooms {
		if item.expired(now) {
			delete(m.rooms, id)
			continue
		}
		out = append(out, item.room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (it memItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}
