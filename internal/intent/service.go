package intent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"LendFlow-Chain/internal/defi"
	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/pkg/logger"
)

// SubmitRequest 描述一次意图提交。ID 非空时按幂等键处理：
// 已存在的记录直接返回，不会重复入队。
type SubmitRequest struct {
	ID     string      `json:"id,omitempty"`
	Chain  string      `json:"chain,omitempty"`
	Wallet string      `json:"wallet,omitempty"`
	Intent defi.Intent `json:"intent"`
}

// Service 负责意图的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造意图服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的意图并推送到队列。静态校验失败的意图不会入库。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图服务未初始化")
	}
	normalized, err := req.Intent.Normalize()
	if err != nil {
		return nil, xerrors.Wrap(CodeIntentValidation, err, "意图静态校验失败")
	}

	intentID := strings.TrimSpace(req.ID)
	if intentID != "" {
		record, err := s.store.Get(ctx, intentID)
		if err == nil {
			return record, nil
		}
		if !stdErrors.Is(err, ErrIntentNotFound) {
			return nil, err
		}
	} else {
		intentID = uuid.NewString()
	}

	record := &Record{
		ID:            intentID,
		Chain:         strings.TrimSpace(req.Chain),
		Kind:          string(normalized.Kind),
		Symbol:        normalized.Symbol,
		Amount:        normalized.AmountHuman,
		RateMode:      int(normalized.RateMode),
		PoolID:        normalized.PoolID,
		ClaimContract: normalized.ClaimContract,
		ClaimCalldata: normalized.ClaimCalldata,
		Wallet:        strings.TrimSpace(req.Wallet),
		Status:        StatusPending,
		Attempts:      0,
		MaxRetries:    s.maxRetries,
	}
	if err := s.store.Create(ctx, record); err != nil {
		if stdErrors.Is(err, ErrIntentConflict) {
			existing, getErr := s.store.Get(ctx, intentID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrIntentNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, intentID); err != nil {
		logger.L().Error("意图入队失败", slog.Any("error", err), slog.String("intent_id", intentID))
		wrapped := xerrors.Wrap(CodeIntentPublish, err, "发布意图到队列失败")
		_ = s.store.MarkFailed(ctx, intentID, CodeIntentPublish, wrapped.Error(), true, nil)
		return nil, wrapped
	}
	logger.Audit().Info("意图入队成功",
		slog.String("intent_id", intentID),
		slog.String("kind", record.Kind),
		slog.String("symbol", record.Symbol),
		slog.String("amount", record.Amount),
		slog.Int("max_retries", record.MaxRetries),
	)
	return record, nil
}

// Get 返回指定意图的状态。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的意图列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的意图统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (IntentStats, error) {
	if s.store == nil {
		return IntentStats{}, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询意图状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
