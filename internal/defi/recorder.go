package defi

import (
	"context"
	"log/slog"

	"LendFlow-Chain/internal/backend"
	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/pkg/logger"
)

// ledgerWriter 是台账写入的边界，由 backend.Client 实现。
type ledgerWriter interface {
	RecordTransaction(ctx context.Context, record backend.LedgerRecord) (*backend.LedgerAck, error)
}

// PositionRecorder 在交易确认后把头寸变动同步到后端台账。
// 记录是尽力而为的：链上状态才是事实来源，任何失败只记日志，
// 绝不改变已确认交易的执行结果。
type PositionRecorder struct {
	ledger ledgerWriter
	log    *slog.Logger
}

// NewPositionRecorder 构造台账记录器。ledger 为 nil 时所有记录请求都被跳过。
func NewPositionRecorder(ledger ledgerWriter) *PositionRecorder {
	return &PositionRecorder{
		ledger: ledger,
		log:    logger.Named("position-recorder"),
	}
}

// Record 尽力写入一条台账记录，失败时只留下日志。
func (r *PositionRecorder) Record(ctx context.Context, record backend.LedgerRecord) {
	if r == nil || r.ledger == nil {
		return
	}
	ack, err := r.ledger.RecordTransaction(ctx, record)
	if err != nil {
		wrapped := xerrors.Wrap(CodeRecordingFailed, err, "台账记录失败")
		r.log.Warn("台账记录失败",
			"tx_hash", record.TxHash,
			"pool_id", record.PoolID,
			"action", record.Action,
			"error", wrapped)
		return
	}
	if ack != nil && !ack.Success {
		r.log.Warn("后端拒绝台账记录",
			"tx_hash", record.TxHash,
			"pool_id", record.PoolID,
			"message", ack.Message)
		return
	}
	r.log.Info("台账记录成功", "tx_hash", record.TxHash, "pool_id", record.PoolID)
}
