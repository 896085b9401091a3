package intent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"LendFlow-Chain/pkg/logger"
)

// MemoryQueue 使用 channel 模拟消息队列，主要用于测试与单机模式。
// 处理失败的意图在重投预算内回到队尾，预算用尽后进入死信列表，
// 行为与 Redis、RabbitMQ 驱动保持一致。
type MemoryQueue struct {
	ch         chan string
	redelivery *redeliveryLedger

	mu     sync.Mutex
	closed bool
	dead   []string
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:         make(chan string, size),
		redelivery: newRedeliveryLedger(0),
	}
}

// Publish 将意图投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, intentID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- intentID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的意图。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case intentID, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, intentID); err != nil {
						q.requeueOrDeadLetter(intentID)
						continue
					}
					q.redelivery.settle(intentID)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// requeueOrDeadLetter 在预算内把意图放回队尾；预算用尽或队列已满
// 时转入死信列表，避免消费协程阻塞在自己的队列上。
func (q *MemoryQueue) requeueOrDeadLetter(intentID string) {
	if q.redelivery.fail(intentID) {
		select {
		case q.ch <- intentID:
			return
		default:
		}
	}
	q.redelivery.settle(intentID)
	q.mu.Lock()
	q.dead = append(q.dead, intentID)
	q.mu.Unlock()
	logger.L().Warn("意图转入死信", slog.String("intent_id", intentID), slog.String("queue", "memory"))
}

// DeadLetters 返回死信列表的快照。
func (q *MemoryQueue) DeadLetters() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.dead...)
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
