package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"LendFlow-Chain/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现意图队列。处理失败的意图在重投
// 预算内以 Nack 重回队列，预算用尽后发布到 <queue>.dead 死信队列
// 再确认原消息，保证坏消息不会无限重投。
type RabbitMQQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	dead       string
	redelivery *redeliveryLedger
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例，同时声明工作队列与
// 配套的死信队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "lendflow.intents"
	}
	dead := queue + ".dead"
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if _, err := ch.QueueDeclare(dead, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 死信队列失败: %w", err)
	}
	return &RabbitMQQueue{
		conn:       conn,
		ch:         ch,
		queue:      queue,
		dead:       dead,
		redelivery: newRedeliveryLedger(0),
	}, nil
}

// Publish 将意图投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, intentID string) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(intentID),
	})
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
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
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					intentID := string(msg.Body)
					if err := handler(ctx, intentID); err != nil {
						q.settleFailure(ctx, msg, intentID)
						continue
					}
					q.redelivery.settle(intentID)
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// settleFailure 在预算内 Nack 重回队列，预算用尽后把消息发布到
// 死信队列并确认原消息。
func (q *RabbitMQQueue) settleFailure(ctx context.Context, msg amqp.Delivery, intentID string) {
	if q.redelivery.fail(intentID) {
		_ = msg.Nack(false, true)
		return
	}
	q.redelivery.settle(intentID)
	if err := q.ch.PublishWithContext(ctx, "", q.dead, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        msg.Body,
	}); err != nil {
		logger.L().Error("RabbitMQ 写入死信失败", slog.Any("error", err), slog.String("intent_id", intentID))
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
	logger.L().Warn("意图转入死信", slog.String("intent_id", intentID), slog.String("queue", q.dead))
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
