package bridge

import (
	"context"
	"time"
)

// Queue 待写队列。出队的消息处于 in-flight 状态，必须以 Ack、Requeue 或
// DeadLetter 之一结束；进程重启时 Recover 把 in-flight 的消息放回队头
type Queue interface {
	// Enqueue 追加到队尾
	Enqueue(ctx context.Context, msg *Message) error
	// Dequeue 取队头，最多等待 wait；没有消息返回 ErrQueueEmpty
	Dequeue(ctx context.Context, wait time.Duration) (*Message, error)
	// Requeue 放回队头，保留 msg 当前的 Attempts
	Requeue(ctx context.Context, msg *Message) error
	Ack(ctx context.Context, msg *Message) error
	DeadLetter(ctx context.Context, msg *Message) error
	// Len 未完成的消息数（含 in-flight）
	Len(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) ([]*Message, error)
	Recover(ctx context.Context) (int, error)
}
