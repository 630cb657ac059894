package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"

	"BlockJack/internal/storage"
)

// Result Queued 为 true 表示已进入待写队列，稍后由 Retrier 落库
type Result struct {
	ID       string `json:"id"`
	Queued   bool   `json:"queued"`
	Degraded bool   `json:"degraded"`
}

func (r Result) Mode() string {
	if r.Degraded {
		return "degraded"
	}
	return "direct"
}

type Writer struct {
	gate    *Gate
	queue   Queue
	applier Applier
	dedup   Dedup
	pool    *ants.Pool
	timeout time.Duration
	log     *log.Logger
}

func NewWriter(gate *Gate, queue Queue, applier Applier, dedup Dedup, pool *ants.Pool, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{
		gate:    gate,
		queue:   queue,
		applier: applier,
		dedup:   dedup,
		pool:    pool,
		timeout: 5 * time.Second,
		log:     logger.WithPrefix("writer"),
	}
}

// Submit 持久层健康且队列为空时直写；不健康、队列有积压或直写失败时入队并返回降级标记。
// 积压时直写会越过更早入队的消息（例如删房间先于建房间落库），所以排到队尾。
// 只有入队也失败才返回 ErrNotAccepted
func (w *Writer) Submit(ctx context.Context, op Operation, payload any) (Result, error) {
	msg, err := NewMessage(op, payload)
	if err != nil {
		return Result{}, err
	}

	if w.gate.Healthy() && w.drained(ctx) {
		err := w.applier.Apply(ctx, msg)
		if err == nil {
			if err := w.dedup.Mark(ctx, msg.ID); err != nil {
				w.log.Warn("dedup mark failed", "id", msg.ID, "err", err)
			}
			return Result{ID: msg.ID}, nil
		}
		if errors.Is(err, storage.ErrUnavailable) {
			w.gate.ReportFailure(err)
		} else {
			msg.Attempts = 1
		}
		w.log.Warn("direct write failed, queueing", "op", op, "id", msg.ID, "err", err)
	}

	if err := w.queue.Enqueue(ctx, msg); err != nil {
		w.log.Error("enqueue failed, write lost", "op", op, "id", msg.ID, "err", err)
		return Result{}, fmt.Errorf("%w: %v", ErrNotAccepted, err)
	}
	return Result{ID: msg.ID, Queued: true, Degraded: true}, nil
}

// drained 队列里没有待写或 in-flight 的消息；队列不可读时按空处理，直写不会更糟
func (w *Writer) drained(ctx context.Context) bool {
	n, err := w.queue.Len(ctx)
	if err != nil {
		w.log.Warn("queue length unavailable", "err", err)
		return true
	}
	return n == 0
}

// SubmitAsync 在协程池里提交，调用方不等待持久层
func (w *Writer) SubmitAsync(op Operation, payload any) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if _, err := w.Submit(ctx, op, payload); err != nil {
			w.log.Error("async submit failed", "op", op, "err", err)
		}
	}
	if w.pool == nil {
		go task()
		return
	}
	if err := w.pool.Submit(task); err != nil {
		w.log.Warn("pool rejected task, running inline goroutine", "op", op, "err", err)
		go task()
	}
}
