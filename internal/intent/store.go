package intent

import (
	"context"

	xerrors "LendFlow-Chain/internal/errors"
)

// Store 抽象了意图状态的持久化接口。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Claim(ctx context.Context, id string) (*Record, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool, result *ExecutionResult) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (IntentStats, error)
	Close() error
}
