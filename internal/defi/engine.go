package defi

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LendFlow-Chain/internal/asset"
	"LendFlow-Chain/internal/backend"
	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/internal/web3"
	"LendFlow-Chain/internal/web3/provider"
	"LendFlow-Chain/pkg/logger"
)

// Stage 标识流水线所处的阶段，随结果与日志一起输出。
type Stage string

const (
	StageValidating           Stage = "validating"
	StageApproving            Stage = "approving"
	StageSubmitting           Stage = "submitting"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageConfirmed            Stage = "confirmed"
	StageReverted             Stage = "reverted"
	StageTimedOut             Stage = "timed_out"
	StageRecording            Stage = "recording"
)

// Validator 是风控预校验的边界，由 backend.Client 实现。
type Validator interface {
	ValidateTransaction(ctx context.Context, req backend.ValidationRequest) (backend.Verdict, error)
}

// Result 汇总一次意图执行的终态。
// 回滚的交易携带区块号，超时的交易不携带。
type Result struct {
	Stage       Stage    `json:"stage"`
	TxHash      string   `json:"tx_hash,omitempty"`
	Confirmed   bool     `json:"confirmed"`
	BlockNumber *big.Int `json:"block_number,omitempty"`
	GasUsed     uint64   `json:"gas_used,omitempty"`

	// Skipped 表示授权额度已充足，approve 被跳过，链上没有新交易。
	Skipped bool `json:"skipped,omitempty"`
}

// Config 控制确认轮询与授权等待的时间参数。
type Config struct {
	ConfirmTimeout time.Duration
	ApproveTimeout time.Duration
	PollInterval   time.Duration
}

// Engine 把交易意图编排为 校验 → (授权) → 提交 → 确认 → 记录 的流水线。
// 每个阶段失败都会短路后续阶段；台账记录除外，它不影响终态。
type Engine struct {
	assets    *asset.Resolver
	validator Validator
	recorder  *PositionRecorder
	calldata  *CalldataBuilder
	cfg       Config
	log       *slog.Logger
}

// NewEngine 构造交易编排引擎。
func NewEngine(assets *asset.Resolver, validator Validator, recorder *PositionRecorder, cfg Config) (*Engine, error) {
	if assets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少资产解析器")
	}
	if validator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少风控校验客户端")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 120 * time.Second
	}
	if cfg.ApproveTimeout <= 0 {
		cfg.ApproveTimeout = 60 * time.Second
	}
	builder, err := NewCalldataBuilder()
	if err != nil {
		return nil, err
	}
	return &Engine{
		assets:    assets,
		validator: validator,
		recorder:  recorder,
		calldata:  builder,
		cfg:       cfg,
		log:       logger.Named("defi-engine"),
	}, nil
}

// Execute 在指定链上执行一条交易意图，返回链上终态。
func (e *Engine) Execute(ctx context.Context, chain *provider.Chain, in Intent) (*Result, error) {
	intent, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	if chain == nil || chain.Client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链上下文未初始化")
	}
	if chain.Session == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链 %s 未配置签名会话", chain.Name))
	}

	e.log.Info("开始执行交易意图",
		"kind", string(intent.Kind),
		"symbol", intent.Symbol,
		"chain", chain.Name,
		"wallet", chain.Session.From().Hex())

	switch intent.Kind {
	case KindApprove:
		return e.executeApprove(ctx, chain, intent)
	case KindDeposit:
		return e.executeDeposit(ctx, chain, intent)
	case KindBorrow:
		return e.executeBorrow(ctx, chain, intent)
	case KindRepay:
		return e.executeRepay(ctx, chain, intent)
	case KindHarvest:
		return e.executeHarvest(ctx, chain, intent)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的操作类型: %s", intent.Kind))
	}
}

// executeApprove 将 approve 作为独立操作执行。额度充足时直接跳过，
// 不产生任何链上交易。
func (e *Engine) executeApprove(ctx context.Context, chain *provider.Chain, intent Intent) (*Result, error) {
	token, amount, err := e.resolveAmount(intent)
	if err != nil {
		return nil, err
	}
	if err := e.validate(ctx, chain, intent); err != nil {
		return nil, err
	}
	return e.approve(ctx, chain, token, amount)
}

func (e *Engine) executeDeposit(ctx context.Context, chain *provider.Chain, intent Intent) (*Result, error) {
	token, amount, err := e.resolveAmount(intent)
	if err != nil {
		return nil, err
	}
	if err := e.validate(ctx, chain, intent); err != nil {
		return nil, err
	}
	if err := e.ensureAllowance(ctx, chain, token, amount); err != nil {
		return nil, err
	}
	wallet := chain.Session.From()
	data, err := e.calldata.Deposit(token.Address, amount, wallet)
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionFailed, err, "构造 deposit 调用失败")
	}
	return e.submitAndSettle(ctx, chain, intent, chain.Pool, data)
}

func (e *Engine) executeBorrow(ctx context.Context, chain *provider.Chain, intent Intent) (*Result, error) {
	token, amount, err := e.resolveAmount(intent)
	if err != nil {
		return nil, err
	}
	if err := e.validate(ctx, chain, intent); err != nil {
		return nil, err
	}
	wallet := chain.Session.From()
	data, err := e.calldata.Borrow(token.Address, amount, intent.RateMode, wallet)
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionFailed, err, "构造 borrow 调用失败")
	}
	return e.submitAndSettle(ctx, chain, intent, chain.Pool, data)
}

// executeRepay 不进入授权阶段：授权前置只属于 deposit，
// repay 的额度由调用方自行保证。
func (e *Engine) executeRepay(ctx context.Context, chain *provider.Chain, intent Intent) (*Result, error) {
	token, amount, err := e.resolveAmount(intent)
	if err != nil {
		return nil, err
	}
	if err := e.validate(ctx, chain, intent); err != nil {
		return nil, err
	}
	wallet := chain.Session.From()
	data, err := e.calldata.Repay(token.Address, amount, intent.RateMode, wallet)
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionFailed, err, "构造 repay 调用失败")
	}
	return e.submitAndSettle(ctx, chain, intent, chain.Pool, data)
}

// executeHarvest 把调用方预构造的 calldata 原样提交给领取合约。
func (e *Engine) executeHarvest(ctx context.Context, chain *provider.Chain, intent Intent) (*Result, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(intent.ClaimCalldata, "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "harvest calldata 不是合法的十六进制")
	}
	if err := e.validate(ctx, chain, intent); err != nil {
		return nil, err
	}
	return e.submitAndSettle(ctx, chain, intent, common.HexToAddress(intent.ClaimContract), data)
}

// resolveAmount 在任何 I/O 之前解析资产与数量，非法输入直接短路。
func (e *Engine) resolveAmount(intent Intent) (asset.Asset, *big.Int, error) {
	token, err := e.assets.Resolve(intent.Symbol)
	if err != nil {
		return asset.Asset{}, nil, err
	}
	amount, err := token.ParseAmount(intent.AmountHuman)
	if err != nil {
		return asset.Asset{}, nil, err
	}
	return token, amount, nil
}

// validate 调用风控引擎做预校验。业务拒绝是终态，永不重试。
func (e *Engine) validate(ctx context.Context, chain *provider.Chain, intent Intent) error {
	wallet := chain.Session.From()
	data := map[string]any{
		"kind":     string(intent.Kind),
		"chain_id": chain.ChainID,
	}
	if intent.Symbol != "" {
		data["symbol"] = intent.Symbol
		data["amount"] = intent.AmountHuman
	}
	if intent.PoolID != "" {
		data["pool_id"] = intent.PoolID
	}
	if intent.ClaimContract != "" {
		data["contract"] = intent.ClaimContract
	}
	if intent.Kind == KindBorrow || intent.Kind == KindRepay {
		data["rate_mode"] = int(intent.RateMode)
	}

	verdict, err := e.validator.ValidateTransaction(ctx, backend.ValidationRequest{
		Type:          string(intent.Kind),
		Data:          data,
		WalletAddress: wallet.Hex(),
	})
	if err != nil {
		return err
	}
	if !verdict.IsValid {
		reason := verdict.Reason
		if reason == "" {
			reason = "风控引擎拒绝该交易"
		}
		e.log.Info("风控校验未通过",
			"kind", string(intent.Kind), "wallet", wallet.Hex(), "reason", reason)
		return xerrors.New(CodeValidationRejected, reason)
	}
	return nil
}

// ensureAllowance 检查借贷池的授权额度，不足时先执行 approve 并等待确认。
// 授权未确认时父操作不允许继续。
func (e *Engine) ensureAllowance(ctx context.Context, chain *provider.Chain, token asset.Asset, amount *big.Int) error {
	result, err := e.approve(ctx, chain, token, amount)
	if err != nil {
		return err
	}
	if !result.Confirmed {
		return xerrors.New(CodeApprovalFailed,
			fmt.Sprintf("授权交易未确认（阶段 %s），终止后续操作", result.Stage))
	}
	return nil
}

func (e *Engine) approve(ctx context.Context, chain *provider.Chain, token asset.Asset, amount *big.Int) (*Result, error) {
	wallet := chain.Session.From()
	allowance, err := chain.Client.ERC20Allowance(ctx, token.Address, wallet, chain.Pool)
	if err != nil {
		return nil, xerrors.Wrap(CodeApprovalFailed, err, "查询授权额度失败")
	}
	if allowance.Cmp(amount) >= 0 {
		e.log.Info("授权额度充足，跳过 approve",
			"symbol", token.Symbol, "allowance", allowance.String(), "amount", amount.String())
		return &Result{Stage: StageConfirmed, Confirmed: true, Skipped: true}, nil
	}

	data, err := e.calldata.Approve(chain.Pool, amount)
	if err != nil {
		return nil, xerrors.Wrap(CodeApprovalFailed, err, "构造 approve 调用失败")
	}
	hash, err := chain.Session.SendTransaction(ctx, web3.TxRequest{
		From: wallet,
		To:   token.Address,
		Data: data,
	})
	if err != nil {
		return nil, xerrors.Wrap(CodeApprovalFailed, err, "提交授权交易失败")
	}
	e.log.Info("授权交易已提交", "symbol", token.Symbol, "tx_hash", hash.Hex())

	outcome, err := e.watch(ctx, chain, hash, e.cfg.ApproveTimeout)
	if err != nil {
		return nil, err
	}
	return resultFrom(hash, outcome), nil
}

// submitAndSettle 提交交易、等待确认并尽力记录台账。
// 回滚与超时都返回非确认的 Result 而非 error：交易哈希已经存在，
// 调用方需要拿到它做后续排查。
func (e *Engine) submitAndSettle(ctx context.Context, chain *provider.Chain, intent Intent, to common.Address, data []byte) (*Result, error) {
	wallet := chain.Session.From()
	hash, err := chain.Session.SendTransaction(ctx, web3.TxRequest{
		From: wallet,
		To:   to,
		Data: data,
	})
	if err != nil {
		return nil, xerrors.Wrap(CodeSubmissionFailed, err, "提交交易失败")
	}
	e.log.Info("交易已提交",
		"kind", string(intent.Kind), "tx_hash", hash.Hex(), "to", to.Hex())

	outcome, err := e.watch(ctx, chain, hash, e.cfg.ConfirmTimeout)
	if err != nil {
		return nil, err
	}
	result := resultFrom(hash, outcome)

	// 哈希一旦广播，台账就要留痕：回滚与超时的交易同样记录，
	// 后端对账需要看到未确认的提交。
	if intent.PoolID != "" {
		amount := intent.AmountHuman
		if intent.Kind == KindHarvest {
			amount = "0"
		}
		e.recorder.Record(ctx, backend.LedgerRecord{
			PoolID:  intent.PoolID,
			ChainID: chain.ChainID,
			Wallet:  wallet.Hex(),
			TxHash:  hash.Hex(),
			Amount:  amount,
			Action:  string(intent.Kind),
		})
	}

	e.log.Info("交易意图执行完成",
		"kind", string(intent.Kind),
		"tx_hash", hash.Hex(),
		"stage", string(result.Stage),
		"confirmed", result.Confirmed)
	return result, nil
}

func (e *Engine) watch(ctx context.Context, chain *provider.Chain, hash common.Hash, timeout time.Duration) (Outcome, error) {
	watcher := NewConfirmationWatcher(chain.Client, WatchConfig{
		PollInterval:  e.cfg.PollInterval,
		Timeout:       timeout,
		Confirmations: chain.Confirmations,
	})
	return watcher.Wait(ctx, hash)
}

func resultFrom(hash common.Hash, outcome Outcome) *Result {
	result := &Result{
		TxHash:    hash.Hex(),
		Confirmed: outcome.Confirmed,
		GasUsed:   outcome.GasUsed,
	}
	switch {
	case outcome.Confirmed:
		result.Stage = StageConfirmed
		result.BlockNumber = outcome.BlockNumber
	case outcome.TimedOut:
		result.Stage = StageTimedOut
	default:
		result.Stage = StageReverted
		result.BlockNumber = outcome.BlockNumber
	}
	return result
}
