package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"LendFlow-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	fallbackTransferGas = 21_000
	fallbackContractGas = 200_000
)

// txBackend mirrors the subset of methods required to sign and broadcast,
// satisfied by both ethclient.Client and the simulated backend.
type txBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// KeyedSession 用本地私钥实现 web3.Session。同一钱包内的提交串行化，
// 保证 nonce 顺序；跨钱包的并发由各自的会话独立处理。
type KeyedSession struct {
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	backend txBackend
	mu      sync.Mutex
}

// NewKeyedSession 根据十六进制私钥构造签名会话。
func NewKeyedSession(hexKey string, chainID *big.Int, backend txBackend) (*KeyedSession, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("未提供签名私钥")
	}
	if chainID == nil {
		return nil, errors.New("未提供链 ID")
	}
	if backend == nil {
		return nil, errors.New("未提供链访问后端")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return &KeyedSession{
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		backend: backend,
	}, nil
}

// KeyedSession 基于只读客户端的后端构造签名会话。
func (c *Client) KeyedSession(ctx context.Context, hexKey string) (*KeyedSession, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	var backend txBackend
	if c.eth != nil {
		backend = c.eth
	} else if tb, ok := c.backend.(txBackend); ok {
		backend = tb
	}
	return NewKeyedSession(hexKey, chainID, backend)
}

// From 返回会话对应的钱包地址。
func (s *KeyedSession) From() common.Address {
	return s.from
}

// SendTransaction 签名并广播一笔交易，返回交易哈希。
// 广播失败时不存在哈希，调用方视为终态失败。
func (s *KeyedSession) SendTransaction(ctx context.Context, req web3.TxRequest) (common.Hash, error) {
	if s == nil || s.backend == nil {
		return common.Hash{}, errors.New("签名会话未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}

	gasTipCap, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取 gas tip 失败: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	// MaxFeePerGas = 2*BaseFee + Tip，避免下一区块 BaseFee 上涨导致交易被丢弃。
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), gasTipCap)

	to := req.To
	gasLimit, err := s.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:  s.from,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		if len(req.Data) > 0 {
			gasLimit = fallbackContractGas
		} else {
			gasLimit = fallbackTransferGas
		}
	} else {
		gasLimit = gasLimit + gasLimit/5
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	signedTx, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return signedTx.Hash(), nil
}

// ensure interface compliance at compile time
var _ web3.Session = (*KeyedSession)(nil)
