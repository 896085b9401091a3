package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"LendFlow-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// erc20ABI 只包含流水线用到的 allowance 查询。
const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

// Config describes how to construct an EVM compatible read client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// readBackend mirrors the subset of methods required for read-only access,
// satisfied by both ethclient.Client and the simulated backend.
type readBackend interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the web3.ReadClient interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   readBackend
	erc20     abi.ABI

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		erc20:     parsed,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, backend readBackend) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	return &Client{
		name:    name,
		notes:   "simulated backend",
		backend: backend,
		erc20:   parsed,
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID 返回链 ID，首次查询后缓存。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	if c.eth == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// TransactionReceipt 查询交易回执并计算当前确认深度。
// 尚未打包的交易返回 web3.ErrReceiptNotFound。
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	backend := c.receiptBackend()
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return nil, web3.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("查询交易回执失败: %w", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, web3.ErrReceiptNotFound
	}

	latest, err := c.latestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块高度失败: %w", err)
	}

	var confirmations uint64
	mined := receipt.BlockNumber.Uint64()
	if latest >= mined {
		confirmations = latest - mined + 1
	}
	return &web3.Receipt{
		Status:        receipt.Status,
		BlockNumber:   new(big.Int).Set(receipt.BlockNumber),
		GasUsed:       receipt.GasUsed,
		Confirmations: confirmations,
	}, nil
}

// ERC20Allowance 通过 eth_call 读取 (owner, spender) 的授权额度。
func (c *Client) ERC20Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	backend := c.receiptBackend()
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}
	input, err := c.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("编码 allowance 调用失败: %w", err)
	}
	output, err := backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	results, err := c.erc20.Unpack("allowance", output)
	if err != nil {
		return nil, fmt.Errorf("解码授权额度失败: %w", err)
	}
	if len(results) != 1 {
		return nil, errors.New("allowance 返回值数量异常")
	}
	allowance, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("allowance 返回值类型异常")
	}
	return allowance, nil
}

func (c *Client) receiptBackend() readBackend {
	if c.backend != nil {
		return c.backend
	}
	if c.eth != nil {
		return c.eth
	}
	return nil
}

func (c *Client) latestBlockNumber(ctx context.Context) (uint64, error) {
	if c.eth != nil {
		return c.eth.BlockNumber(ctx)
	}
	blockReader, ok := c.backend.(interface {
		BlockByNumber(context.Context, *big.Int) (*coretypes.Block, error)
	})
	if !ok {
		return 0, errors.New("后端不支持区块查询")
	}
	block, err := blockReader.BlockByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return block.NumberU64(), nil
}

// ensure interface compliance at compile time
var _ web3.ReadClient = (*Client)(nil)
