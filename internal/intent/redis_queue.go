package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"LendFlow-Chain/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现意图队列。处理失败的意图在重投
// 预算内回到队尾，预算用尽后落入 <queue>:dead 死信列表，供人工
// 排查后重放。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	dead       string
	wait       time.Duration
	redelivery *redeliveryLedger
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "lendflow:intents"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{
		client:     client,
		queue:      queue,
		dead:       queue + ":dead",
		wait:       wait,
		redelivery: newRedeliveryLedger(0),
	}, nil
}

// Publish 将意图投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, intentID string) error {
	if err := q.client.LPush(ctx, q.queue, intentID).Err(); err != nil {
		return fmt.Errorf("Redis 发布意图失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取意图。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- fmt.Errorf("Redis 取意图失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				intentID := values[1]
				if handlerErr := handler(ctx, intentID); handlerErr != nil {
					q.requeueOrDeadLetter(ctx, intentID)
					continue
				}
				q.redelivery.settle(intentID)
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// requeueOrDeadLetter 在预算内把意图放回队尾，预算用尽后写入死信
// 列表。死信写入失败只记日志：意图状态仍在存储里，恢复扫描能补投。
func (q *RedisQueue) requeueOrDeadLetter(ctx context.Context, intentID string) {
	if q.redelivery.fail(intentID) {
		if err := q.client.RPush(ctx, q.queue, intentID).Err(); err != nil {
			logger.L().Error("Redis 重投意图失败", slog.Any("error", err), slog.String("intent_id", intentID))
		}
		return
	}
	q.redelivery.settle(intentID)
	if err := q.client.LPush(ctx, q.dead, intentID).Err(); err != nil {
		logger.L().Error("Redis 写入死信失败", slog.Any("error", err), slog.String("intent_id", intentID))
		return
	}
	logger.L().Warn("意图转入死信", slog.String("intent_id", intentID), slog.String("queue", q.dead))
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
