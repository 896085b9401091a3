package intent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"LendFlow-Chain/internal/defi"
	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/internal/observability/alerting"
	"LendFlow-Chain/internal/observability/metrics"
	"LendFlow-Chain/pkg/logger"
)

// Executor 定义了处理器所需的执行能力，由 defi.Dispatcher 实现。
type Executor interface {
	Execute(ctx context.Context, chainName string, in defi.Intent) (*defi.Result, error)
}

// Processor 负责从队列消费意图并交给执行引擎。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动意图处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置意图消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, intentID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.store.Claim(ctx, intentID)
	if err != nil {
		if stdErrors.Is(err, ErrIntentNotFound) || stdErrors.Is(err, ErrIntentCompleted) || stdErrors.Is(err, ErrIntentExhausted) {
			p.logDebug("跳过意图", slog.String("intent_id", intentID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取意图失败", slog.Any("error", err), slog.String("intent_id", intentID))
		p.emitAlert(ctx, &Record{ID: intentID}, CodeIntentProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, record.Chain, defi.Intent{
		Kind:          defi.Kind(record.Kind),
		Symbol:        record.Symbol,
		AmountHuman:   record.Amount,
		RateMode:      defi.RateMode(record.RateMode),
		PoolID:        record.PoolID,
		ClaimContract: record.ClaimContract,
		ClaimCalldata: record.ClaimCalldata,
	})
	if execErr != nil {
		outcome := "failed"
		if xerrors.CodeOf(execErr) == defi.CodeValidationRejected {
			outcome = "rejected"
		}
		metrics.ObserveIntent(record.Kind, outcome)
		return p.handleExecutionFailure(ctx, record, execErr)
	}

	return p.settle(ctx, record, result)
}

// settle 将引擎返回的链上终态写回存储。回滚与超时是终态失败，
// 不再重投：重复提交同一笔意图会产生双花风险。
func (p *Processor) settle(ctx context.Context, record *Record, result *defi.Result) error {
	execution := executionFrom(result)

	if result != nil && result.Confirmed {
		metrics.ObserveIntent(record.Kind, "confirmed")
		if err := p.store.MarkSucceeded(ctx, record.ID, execution); err != nil {
			logger.L().Error("标记意图成功状态失败", slog.Any("error", err), slog.String("intent_id", record.ID))
			if storeErr := p.store.MarkFailed(ctx, record.ID, CodeIntentProcessing, err.Error(), false, &execution); storeErr != nil {
				logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("intent_id", record.ID))
				return storeErr
			}
			if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
				return xerrors.Wrap(CodeIntentPublish, pubErr, fmt.Sprintf("意图 %s 在标记成功失败后重投失败", record.ID))
			}
			return nil
		}
		logger.Audit().Info("意图执行成功",
			slog.String("intent_id", record.ID),
			slog.String("kind", record.Kind),
			slog.String("tx_hash", execution.TxHash),
			slog.Bool("skipped", execution.Skipped),
		)
		return nil
	}

	code := defi.CodeTransactionReverted
	outcome := "reverted"
	message := fmt.Sprintf("交易 %s 在区块 %s 回滚", execution.TxHash, execution.BlockNumber)
	if result != nil && result.Stage == defi.StageTimedOut {
		code = defi.CodeConfirmationTimeout
		outcome = "timed_out"
		message = fmt.Sprintf("交易 %s 在等待窗口内未确认", execution.TxHash)
	}
	metrics.ObserveIntent(record.Kind, outcome)

	if err := p.store.MarkFailed(ctx, record.ID, code, message, true, &execution); err != nil {
		logger.L().Error("标记意图失败状态出错", slog.Any("error", err), slog.String("intent_id", record.ID))
		return err
	}
	logger.Audit().Warn("意图在链上未确认",
		slog.String("intent_id", record.ID),
		slog.String("kind", record.Kind),
		slog.String("tx_hash", execution.TxHash),
		slog.String("outcome", outcome),
	)
	p.emitAlert(ctx, record, code, stdErrors.New(message), outcome)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, record *Record, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeIntentProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := record.Attempts >= record.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, record.ID, code, execErr.Error(), terminal, nil); storeErr != nil {
		logger.L().Error("标记意图失败状态出错", slog.Any("error", storeErr), slog.String("intent_id", record.ID))
		return storeErr
	}
	logger.Audit().Warn("意图执行失败",
		slog.String("intent_id", record.ID),
		slog.String("kind", record.Kind),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", record.Attempts),
		slog.Int("max_retries", record.MaxRetries),
	)

	// !retryable 蕴含 terminal，阶段只剩两种。
	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, record, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, record.ID); pubErr != nil {
			return xerrors.Wrap(CodeIntentPublish, pubErr, fmt.Sprintf("意图 %s 重投失败", record.ID))
		}
		p.logDebug("意图已重新排队", slog.String("intent_id", record.ID), slog.Int("attempts", record.Attempts))
	}
	return nil
}

func executionFrom(result *defi.Result) ExecutionResult {
	if result == nil {
		return ExecutionResult{}
	}
	execution := ExecutionResult{
		Stage:     string(result.Stage),
		TxHash:    result.TxHash,
		Confirmed: result.Confirmed,
		GasUsed:   result.GasUsed,
		Skipped:   result.Skipped,
	}
	if result.BlockNumber != nil {
		execution.BlockNumber = result.BlockNumber.String()
	}
	return execution
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, record *Record, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || record == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	txHash := ""
	if record.Result != nil {
		txHash = record.Result.TxHash
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		IntentID:   record.ID,
		Kind:       record.Kind,
		Wallet:     record.Wallet,
		TxHash:     txHash,
		Attempts:   record.Attempts,
		MaxRetries: record.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("intent_id", record.ID),
			slog.String("stage", stage),
		)
	}
}
