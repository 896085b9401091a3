package defi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// 流水线只消费这几个调用形态，ABI 保持最小化。
const (
	erc20ApproveABI = `[{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

	lendingPoolABI = `[
  {"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"name":"borrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"rateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"name":"repay","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`
)

// referralCode 固定为 0，当前不参与推荐计划。
const referralCode = uint16(0)

// CalldataBuilder 将借贷池与 ERC-20 的调用编码为交易 payload。
type CalldataBuilder struct {
	erc20 abi.ABI
	pool  abi.ABI
}

// NewCalldataBuilder 解析内置 ABI 并构造编码器。
func NewCalldataBuilder() (*CalldataBuilder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	pool, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		return nil, fmt.Errorf("解析借贷池 ABI 失败: %w", err)
	}
	return &CalldataBuilder{erc20: erc20, pool: pool}, nil
}

// Approve 编码 ERC-20 approve(spender, amount)。
func (b *CalldataBuilder) Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := b.erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 approve 调用失败: %w", err)
	}
	return data, nil
}

// Deposit 编码 deposit(asset, amount, onBehalfOf, referralCode)。
func (b *CalldataBuilder) Deposit(asset common.Address, amount *big.Int, onBehalfOf common.Address) ([]byte, error) {
	data, err := b.pool.Pack("deposit", asset, amount, onBehalfOf, referralCode)
	if err != nil {
		return nil, fmt.Errorf("编码 deposit 调用失败: %w", err)
	}
	return data, nil
}

// Borrow 编码 borrow(asset, amount, interestRateMode, referralCode, onBehalfOf)。
func (b *CalldataBuilder) Borrow(asset common.Address, amount *big.Int, rateMode RateMode, onBehalfOf common.Address) ([]byte, error) {
	data, err := b.pool.Pack("borrow", asset, amount, big.NewInt(int64(rateMode)), referralCode, onBehalfOf)
	if err != nil {
		return nil, fmt.Errorf("编码 borrow 调用失败: %w", err)
	}
	return data, nil
}

// Repay 编码 repay(asset, amount, rateMode, onBehalfOf)。
func (b *CalldataBuilder) Repay(asset common.Address, amount *big.Int, rateMode RateMode, onBehalfOf common.Address) ([]byte, error) {
	data, err := b.pool.Pack("repay", asset, amount, big.NewInt(int64(rateMode)), onBehalfOf)
	if err != nil {
		return nil, fmt.Errorf("编码 repay 调用失败: %w", err)
	}
	return data, nil
}
