package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

type Subscription struct {
	RoomID string
	C      <-chan Event

	ch     chan Event
	closed bool
}

// Broker 按房间维护订阅者。投递不阻塞：订阅者缓冲满时丢弃并计数
type Broker struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Subscription]struct{}
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{rooms: make(map[string]map[*Subscription]struct{})}
}

func (b *Broker) Subscribe(roomID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{RoomID: roomID, C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe 关闭订阅通道，可重复调用
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if subs, ok := b.rooms[sub.RoomID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.rooms, sub.RoomID)
		}
	}
}

func (b *Broker) Publish(roomID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.rooms[roomID] {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) Subscribers(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
