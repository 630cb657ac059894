package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"BlockJack/internal/storage"
)

type RetryConfig struct {
	// UnhealthyWait 持久层不可用时每次等待的固定间隔
	UnhealthyWait time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	// PollWait 队列为空时单次出队最多阻塞多久
	PollWait time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.UnhealthyWait <= 0 {
		c.UnhealthyWait = 5 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PollWait <= 0 {
		c.PollWait = time.Second
	}
	return c
}

// Backoff min(base × 2^attempts, max)
func (c RetryConfig) Backoff(attempts int) time.Duration {
	d := c.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Retrier 单循环拉取待写队列，同一时刻只处理一条，保持入队顺序
type Retrier struct {
	gate    *Gate
	queue   Queue
	applier Applier
	dedup   Dedup
	cfg     RetryConfig
	log     *log.Logger
}

func NewRetrier(gate *Gate, queue Queue, applier Applier, dedup Dedup, cfg RetryConfig, logger *log.Logger) *Retrier {
	if logger == nil {
		logger = log.Default()
	}
	return &Retrier{
		gate:    gate,
		queue:   queue,
		applier: applier,
		dedup:   dedup,
		cfg:     cfg.withDefaults(),
		log:     logger.WithPrefix("retrier"),
	}
}

func (r *Retrier) Run(ctx context.Context) {
	if n, err := r.queue.Recover(ctx); err != nil {
		r.log.Error("recover in-flight messages failed", "err", err)
	} else if n > 0 {
		r.log.Info("recovered in-flight messages", "count", n)
	}

	for ctx.Err() == nil {
		wait := r.step(ctx)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// step 处理至多一条消息，返回下一次拉取前需要等待的时间
func (r *Retrier) step(ctx context.Context) time.Duration {
	if !r.gate.Healthy() {
		return r.cfg.UnhealthyWait
	}

	msg, err := r.queue.Dequeue(ctx, r.cfg.PollWait)
	if errors.Is(err, ErrQueueEmpty) || errors.Is(err, context.Canceled) {
		return 0
	}
	if err != nil {
		r.log.Error("dequeue failed", "err", err)
		return r.cfg.UnhealthyWait
	}

	// 出队后再确认一次，期间可能已经切到不可用
	if !r.gate.Healthy() {
		r.settle(ctx, msg, r.queue.Requeue)
		return r.cfg.UnhealthyWait
	}

	if seen, err := r.dedup.Seen(ctx, msg.ID); err == nil && seen {
		r.log.Debug("message already applied", "id", msg.ID, "op", msg.Operation)
		r.settle(ctx, msg, r.queue.Ack)
		return 0
	}

	err = r.applier.Apply(ctx, msg)
	switch {
	case err == nil:
		if err := r.dedup.Mark(ctx, msg.ID); err != nil {
			r.log.Warn("dedup mark failed", "id", msg.ID, "err", err)
		}
		r.settle(ctx, msg, r.queue.Ack)
		r.log.Info("queued write applied", "id", msg.ID, "op", msg.Operation, "attempts", msg.Attempts)
		return 0

	case errors.Is(err, storage.ErrUnavailable):
		// 基础设施错误不计入重试次数
		r.gate.ReportFailure(err)
		r.settle(ctx, msg, r.queue.Requeue)
		return r.cfg.UnhealthyWait

	default:
		msg.Attempts++
		if msg.Attempts >= r.cfg.MaxAttempts {
			r.log.Error("message dead-lettered", "id", msg.ID, "op", msg.Operation, "attempts", msg.Attempts, "err", err)
			r.settle(ctx, msg, r.queue.DeadLetter)
			return 0
		}
		wait := r.cfg.Backoff(msg.Attempts)
		r.log.Warn("apply failed, retrying", "id", msg.ID, "op", msg.Operation, "attempts", msg.Attempts, "backoff", wait, "err", err)
		r.settle(ctx, msg, r.queue.Requeue)
		return wait
	}
}

func (r *Retrier) settle(ctx context.Context, msg *Message, fn func(context.Context, *Message) error) {
	if err := fn(ctx, msg); err != nil {
		// 留在 processing，下次启动 Recover 会放回
		r.log.Error("settle message failed", "id", msg.ID, "err", err)
	}
}
