package defi

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LendFlow-Chain/internal/web3"
	"LendFlow-Chain/pkg/logger"
)

const defaultPollInterval = 3 * time.Second

// receiptReader 是确认轮询所需的最小链访问能力。
type receiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*web3.Receipt, error)
}

// WatchConfig 控制确认轮询的节奏与终止条件。
type WatchConfig struct {
	PollInterval  time.Duration
	Timeout       time.Duration
	Confirmations uint64
}

// Outcome 是一次确认等待的终态。
// 回滚时携带区块号，超时则不携带：两者都表示未确认，但语义不同。
type Outcome struct {
	Confirmed   bool
	TimedOut    bool
	BlockNumber *big.Int
	GasUsed     uint64
}

// ConfirmationWatcher 以固定间隔轮询交易回执，直到确认深度达标、
// 交易回滚或等待超时。回执缺失与瞬时 RPC 故障同等对待：继续轮询。
type ConfirmationWatcher struct {
	client receiptReader
	cfg    WatchConfig
	log    *slog.Logger
}

// NewConfirmationWatcher 构造确认轮询器。
func NewConfirmationWatcher(client receiptReader, cfg WatchConfig) *ConfirmationWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	return &ConfirmationWatcher{
		client: client,
		cfg:    cfg,
		log:    logger.Named("confirmation-watcher"),
	}
}

// Wait 阻塞等待交易终态。超时返回 TimedOut 结果而非 error；
// 只有上层 context 被取消时才返回 error。
func (w *ConfirmationWatcher) Wait(ctx context.Context, hash common.Hash) (Outcome, error) {
	deadline := time.Now().Add(w.cfg.Timeout)
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		switch {
		case err != nil:
			// 未打包或节点瞬时故障都不是终态，继续等下一轮。
			w.log.Debug("交易回执尚不可用", "tx_hash", hash.Hex(), "error", err)
		case receipt.Confirmations >= w.cfg.Confirmations:
			// 回滚也要等确认深度达标：浅回执可能在重组中翻转。
			if !receipt.Succeeded() {
				w.log.Warn("交易已上链但执行回滚",
					"tx_hash", hash.Hex(), "block_number", receipt.BlockNumber)
				return Outcome{BlockNumber: receipt.BlockNumber, GasUsed: receipt.GasUsed}, nil
			}
			return Outcome{
				Confirmed:   true,
				BlockNumber: receipt.BlockNumber,
				GasUsed:     receipt.GasUsed,
			}, nil
		default:
			w.log.Debug("等待确认深度达标",
				"tx_hash", hash.Hex(),
				"confirmations", receipt.Confirmations,
				"required", w.cfg.Confirmations)
		}

		if !time.Now().Before(deadline) {
			w.log.Warn("确认等待超时", "tx_hash", hash.Hex(), "timeout", w.cfg.Timeout)
			return Outcome{TimedOut: true}, nil
		}

		timer.Reset(w.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return Outcome{TimedOut: true}, ctx.Err()
		case <-timer.C:
		}
	}
}
