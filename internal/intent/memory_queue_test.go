package intent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryQueueRequeuesFailedIntentUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	var attempts atomic.Int32
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 1, func(context.Context, string) error {
			if attempts.Add(1) < 3 {
				return errors.New("store unavailable")
			}
			close(done)
			return nil
		})
	}()

	if err := queue.Publish(ctx, "intent-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("意图未能在重投后处理成功, attempts=%d", attempts.Load())
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if dead := queue.DeadLetters(); len(dead) != 0 {
		t.Fatalf("成功的意图不应进入死信: %v", dead)
	}
}

func TestMemoryQueueDeadLettersWhenBudgetExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	var attempts atomic.Int32

	go func() {
		_ = queue.Consume(ctx, 1, func(context.Context, string) error {
			attempts.Add(1)
			return errors.New("handler keeps failing")
		})
	}()

	if err := queue.Publish(ctx, "intent-poison"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		if dead := queue.DeadLetters(); len(dead) == 1 {
			if dead[0] != "intent-poison" {
				t.Fatalf("unexpected dead letter: %v", dead)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("预算用尽后意图应进入死信, attempts=%d", attempts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// 首次投递加上预算内的重投，之后不再消费。
	want := int32(defaultRedeliveryLimit + 1)
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != want {
		t.Fatalf("expected %d attempts, got %d", want, got)
	}
}
