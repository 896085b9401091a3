package defi

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "LendFlow-Chain/internal/errors"
)

// Kind 表示用户发起的金融操作类型。
type Kind string

const (
	KindApprove Kind = "approve"
	KindDeposit Kind = "deposit"
	KindBorrow  Kind = "borrow"
	KindRepay   Kind = "repay"
	KindHarvest Kind = "harvest"
)

// RateMode 表示借款/还款的利率模式。
type RateMode int

const (
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

// Intent 描述一次待执行的交易意图。数量在任何 I/O 之前校验。
type Intent struct {
	Kind        Kind     `json:"kind"`
	Symbol      string   `json:"symbol,omitempty"`
	AmountHuman string   `json:"amount,omitempty"`
	RateMode    RateMode `json:"rate_mode,omitempty"`
	PoolID      string   `json:"pool_id,omitempty"`

	// harvest 专用：领取合约与调用方预先构造好的 calldata。
	ClaimContract string `json:"claim_contract,omitempty"`
	ClaimCalldata string `json:"claim_calldata,omitempty"`
}

const (
	CodeValidationRejected  xerrors.Code = "VALIDATION_REJECTED"
	CodeApprovalFailed      xerrors.Code = "APPROVAL_FAILED"
	CodeSubmissionFailed    xerrors.Code = "SUBMISSION_FAILED"
	CodeConfirmationTimeout xerrors.Code = "CONFIRMATION_TIMEOUT"
	CodeTransactionReverted xerrors.Code = "TRANSACTION_REVERTED"
	CodeRecordingFailed     xerrors.Code = "RECORDING_FAILED"
)

func init() {
	xerrors.Register(CodeValidationRejected, xerrors.Attributes{
		Message:   "rejected by risk engine",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeApprovalFailed, xerrors.Attributes{
		Message:   "token approval failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:   "transaction submission failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeConfirmationTimeout, xerrors.Attributes{
		Message:   "confirmation wait timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTransactionReverted, xerrors.Attributes{
		Message:   "transaction reverted on chain",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeRecordingFailed, xerrors.Attributes{
		Message:   "ledger recording failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// IsValidKind 检查操作类型是否为支持的枚举值。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindApprove, KindDeposit, KindBorrow, KindRepay, KindHarvest:
		return true
	default:
		return false
	}
}

// Normalize 清洗并校验意图的静态字段，返回可直接执行的副本。
// 这里只做无 I/O 的前置检查，数量解析由资产精度决定。
func (i Intent) Normalize() (Intent, error) {
	out := i
	out.Symbol = strings.ToUpper(strings.TrimSpace(i.Symbol))
	out.AmountHuman = strings.TrimSpace(i.AmountHuman)
	out.PoolID = strings.TrimSpace(i.PoolID)
	out.ClaimContract = strings.TrimSpace(i.ClaimContract)
	out.ClaimCalldata = strings.TrimSpace(i.ClaimCalldata)

	if !IsValidKind(out.Kind) {
		return out, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的操作类型: %s", i.Kind))
	}

	switch out.Kind {
	case KindHarvest:
		if !common.IsHexAddress(out.ClaimContract) {
			return out, xerrors.New(xerrors.CodeInvalidArgument, "harvest 需要合法的领取合约地址")
		}
		if out.ClaimCalldata == "" {
			return out, xerrors.New(xerrors.CodeInvalidArgument, "harvest 需要调用方预构造的 calldata")
		}
	default:
		if out.Symbol == "" {
			return out, xerrors.New(xerrors.CodeInvalidArgument, "缺少资产符号")
		}
		if out.AmountHuman == "" {
			return out, xerrors.New(xerrors.CodeInvalidArgument, "缺少数量")
		}
	}

	if out.Kind == KindBorrow || out.Kind == KindRepay {
		if out.RateMode == 0 {
			out.RateMode = RateModeVariable
		}
		if out.RateMode != RateModeStable && out.RateMode != RateModeVariable {
			return out, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的利率模式: %d", i.RateMode))
		}
	}
	return out, nil
}
