package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "LendFlow-Chain/internal/errors"
)

// ErrReceiptNotFound 表示交易尚未被打包，回执还不存在。
// 确认轮询把它与瞬时 RPC 错误同等对待：继续等待。
var ErrReceiptNotFound = xerrors.New(xerrors.CodeNotFound, "交易回执尚不存在")

// TxRequest 描述一笔待签名广播的交易载荷。
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Receipt 汇总一笔交易的链上回执与当前确认深度。
type Receipt struct {
	Status        uint64
	BlockNumber   *big.Int
	GasUsed       uint64
	Confirmations uint64
}

// Succeeded 判断交易是否执行成功（status == 1）。
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// ReadClient 定义流水线所需的只读链访问能力。
// 实现必须支持并发读取。
type ReadClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	ERC20Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Close()
}

// Session 是外部钱包/签名会话的边界。nonce 排序、签名与同一钱包的
// 串行提交都由实现方负责，编排引擎只消费返回的交易哈希。
type Session interface {
	From() common.Address
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}
