package intent

import (
	xerrors "LendFlow-Chain/internal/errors"
)

// Status 表示意图在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次意图执行的链上结果。
type ExecutionResult struct {
	Stage       string `json:"stage"`
	TxHash      string `json:"tx_hash,omitempty"`
	Confirmed   bool   `json:"confirmed"`
	BlockNumber string `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// hasContent 判断结果是否携带有效信息，用于列表过滤。
func (r *ExecutionResult) hasContent() bool {
	if r == nil {
		return false
	}
	return r.Stage != "" || r.TxHash != ""
}

// Record 描述排队执行的交易意图及其执行进度。
type Record struct {
	ID            string           `json:"id"`
	Chain         string           `json:"chain,omitempty"`
	Kind          string           `json:"kind"`
	Symbol        string           `json:"symbol,omitempty"`
	Amount        string           `json:"amount,omitempty"`
	RateMode      int              `json:"rate_mode,omitempty"`
	PoolID        string           `json:"pool_id,omitempty"`
	ClaimContract string           `json:"claim_contract,omitempty"`
	ClaimCalldata string           `json:"claim_calldata,omitempty"`
	Wallet        string           `json:"wallet,omitempty"`
	Status        Status           `json:"status"`
	Attempts      int              `json:"attempts"`
	MaxRetries    int              `json:"max_retries"`
	LastError     string           `json:"last_error,omitempty"`
	ErrorCode     string           `json:"error_code,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	CreatedAt     int64            `json:"created_at"`
	UpdatedAt     int64            `json:"updated_at"`
}

var (
	// ErrIntentNotFound 表示指定的意图不存在。
	ErrIntentNotFound = xerrors.New(CodeIntentNotFound, "intent not found")
	// ErrIntentConflict 表示意图在当前状态下无法进行所请求的操作。
	ErrIntentConflict = xerrors.New(CodeIntentConflict, "intent conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrIntentCompleted 表示意图已经成功完成。
	ErrIntentCompleted = xerrors.New(CodeIntentCompleted, "intent already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrIntentExhausted 表示意图的重试次数已经耗尽。
	ErrIntentExhausted = xerrors.New(CodeIntentExhausted, "intent retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeIntentNotFound   xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentConflict   xerrors.Code = "INTENT_CONFLICT"
	CodeIntentCompleted  xerrors.Code = "INTENT_COMPLETED"
	CodeIntentExhausted  xerrors.Code = "INTENT_RETRIES_EXHAUSTED"
	CodeIntentValidation xerrors.Code = "INTENT_VALIDATION_FAILED"
	CodeIntentPublish    xerrors.Code = "INTENT_PUBLISH_FAILED"
	CodeIntentProcessing xerrors.Code = "INTENT_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{
		Message:   "intent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentConflict, xerrors.Attributes{
		Message:   "intent conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentCompleted, xerrors.Attributes{
		Message:   "intent already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentExhausted, xerrors.Attributes{
		Message:   "intent retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeIntentValidation, xerrors.Attributes{
		Message:   "intent validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentPublish, xerrors.Attributes{
		Message:   "failed to publish intent",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeIntentProcessing, xerrors.Attributes{
		Message:   "intent execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRecord(record *Record) *Record {
	clone := *record
	if record.Result != nil {
		resultCopy := *record.Result
		clone.Result = &resultCopy
	}
	return &clone
}
