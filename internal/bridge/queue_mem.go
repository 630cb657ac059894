package bridge

import (
	"context"
	"sync"
	"time"
)

type memoryQueue struct {
	mu         sync.Mutex
	pending    []Message
	processing []Message
	dead       []Message
	notify     chan struct{}
}

func NewMemoryQueue() Queue {
	return &memoryQueue{notify: make(chan struct{}, 1)}
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, msg *Message) error {
	q.mu.Lock()
	q.pending = append(q.pending, clean(msg))
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *memoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			m := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = append(q.processing, m)
			q.mu.Unlock()
			m.raw = m.ID
			return &m, nil
		}
		q.mu.Unlock()

		if deadline == nil {
			return nil, ErrQueueEmpty
		}
		select {
		case <-q.notify:
		case <-deadline:
			return nil, ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *memoryQueue) take(msg *Message) bool {
	if msg.raw == "" {
		return false
	}
	for i, m := range q.processing {
		if m.ID == msg.ID {
			q.processing = append(q.processing[:i], q.processing[i+1:]...)
			msg.raw = ""
			return true
		}
	}
	return false
}

func (q *memoryQueue) Requeue(_ context.Context, msg *Message) error {
	q.mu.Lock()
	if !q.take(msg) {
		q.mu.Unlock()
		return ErrNotInFlight
	}
	q.pending = append([]Message{clean(msg)}, q.pending...)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *memoryQueue) Ack(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.take(msg) {
		return ErrNotInFlight
	}
	return nil
}

func (q *memoryQueue) DeadLetter(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.take(msg) {
		return ErrNotInFlight
	}
	q.dead = append(q.dead, clean(msg))
	return nil
}

func (q *memoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending) + len(q.processing)), nil
}

func (q *memoryQueue) DeadLetters(_ context.Context) ([]*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, 0, len(q.dead))
	for i := range q.dead {
		m := q.dead[i]
		out = append(out, &m)
	}
	return out, nil
}

func (q *memoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.processing)
	q.pending = append(q.processing, q.pending...)
	q.processing = nil
	return n, nil
}

func clean(msg *Message) Message {
	m := *msg
	m.raw = ""
	return m
}
