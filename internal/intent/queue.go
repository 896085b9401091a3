package intent

import (
	"context"
	"sync"
)

// Handler 处理来自消息队列的意图 ID。
type Handler func(ctx context.Context, intentID string) error

// Producer 负责向队列投递意图。
type Producer interface {
	Publish(ctx context.Context, intentID string) error
	Close() error
}

// Consumer 负责从队列中消费意图。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// defaultRedeliveryLimit 是队列层兜底重投的上限。业务失败的重试
// 预算由处理器管理；队列层只兜处理器来不及回写状态的基础设施
// 错误，次数到顶后转入死信，防止坏消息无限循环占住工作协程。
const defaultRedeliveryLimit = 3

// redeliveryLedger 记录每条意图在本消费者内的连续投递失败次数。
type redeliveryLedger struct {
	mu    sync.Mutex
	limit int
	fails map[string]int
}

func newRedeliveryLedger(limit int) *redeliveryLedger {
	if limit <= 0 {
		limit = defaultRedeliveryLimit
	}
	return &redeliveryLedger{limit: limit, fails: make(map[string]int)}
}

// fail 记一次失败，返回 true 表示仍在重投预算内。
func (l *redeliveryLedger) fail(intentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails[intentID]++
	return l.fails[intentID] <= l.limit
}

// settle 清除意图的失败计数，在处理成功或转入死信后调用。
func (l *redeliveryLedger) settle(intentID string) {
	l.mu.Lock()
	delete(l.fails, intentID)
	l.mu.Unlock()
}
