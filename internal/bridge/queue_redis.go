package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisQueue struct {
	rdb        *redis.Client
	pending    string
	processing string
	dead       string
}

// key 约定：
//
//	list: {prefix}:pending     -> 待写消息，左侧为队头
//	list: {prefix}:processing  -> 已出队未确认
//	list: {prefix}:dlq         -> 死信
func NewRedisQueue(rdb *redis.Client, prefix string) Queue {
	return &redisQueue{
		rdb:        rdb,
		pending:    fmt.Sprintf("%s:pending", prefix),
		processing: fmt.Sprintf("%s:processing", prefix),
		dead:       fmt.Sprintf("%s:dlq", prefix),
	}
}

func (q *redisQueue) Enqueue(ctx context.Context, msg *Message) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.pending, raw).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	var cmd *redis.StringCmd
	if wait > 0 {
		cmd = q.rdb.BLMove(ctx, q.pending, q.processing, "LEFT", "RIGHT", wait)
	} else {
		cmd = q.rdb.LMove(ctx, q.pending, q.processing, "LEFT", "RIGHT")
	}
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		// 解析不了的消息永远不会成功，直接进死信
		p := q.rdb.TxPipeline()
		p.LRem(ctx, q.processing, 1, raw)
		p.RPush(ctx, q.dead, raw)
		if _, execErr := p.Exec(ctx); execErr != nil {
			return nil, execErr
		}
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// settleScript 从 processing 删除并写入目标列表；不在 processing 里则什么都不做
// KEYS[1] = processing, KEYS[2] = target, ARGV[1] = 出队时的原文, ARGV[2] = 新内容, ARGV[3] = LPUSH|RPUSH
var settleScript = redis.NewScript(`
	if redis.call("LREM", KEYS[1], 1, ARGV[1]) == 0 then
		return 0
	end
	redis.call(ARGV[3], KEYS[2], ARGV[2])
	return 1
`)

func (q *redisQueue) settle(ctx context.Context, msg *Message, target, cmd string) error {
	if msg.raw == "" {
		return ErrNotInFlight
	}
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	n, err := settleScript.Run(ctx, q.rdb, []string{q.processing, target}, msg.raw, raw, cmd).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotInFlight
	}
	msg.raw = ""
	return nil
}

func (q *redisQueue) Requeue(ctx context.Context, msg *Message) error {
	return q.settle(ctx, msg, q.pending, "LPUSH")
}

func (q *redisQueue) DeadLetter(ctx context.Context, msg *Message) error {
	return q.settle(ctx, msg, q.dead, "RPUSH")
}

func (q *redisQueue) Ack(ctx context.Context, msg *Message) error {
	if msg.raw == "" {
		return ErrNotInFlight
	}
	n, err := q.rdb.LRem(ctx, q.processing, 1, msg.raw).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotInFlight
	}
	msg.raw = ""
	return nil
}

func (q *redisQueue) Len(ctx context.Context) (int64, error) {
	p := q.rdb.Pipeline()
	pending := p.LLen(ctx, q.pending)
	processing := p.LLen(ctx, q.processing)
	if _, err := p.Exec(ctx); err != nil {
		return 0, err
	}
	return pending.Val() + processing.Val(), nil
}

func (q *redisQueue) DeadLetters(ctx context.Context) ([]*Message, error) {
	raws, err := q.rdb.LRange(ctx, q.dead, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.raw = ""
		out = append(out, msg)
	}
	return out, nil
}

// Recover 把上次进程遗留在 processing 的消息按原顺序放回队头
func (q *redisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.pending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
