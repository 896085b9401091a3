package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"LendFlow-Chain/internal/config"
	"LendFlow-Chain/internal/web3"
	"LendFlow-Chain/internal/web3/ethereum"
)

// Chain 聚合一条链的只读客户端、签名会话与借贷池参数。
type Chain struct {
	Name          string
	ChainID       int64
	Pool          common.Address
	Confirmations uint64
	Client        web3.ReadClient
	Session       web3.Session
}

// Registry manages a set of chains keyed by human readable names.
type Registry struct {
	defaultChain string
	chains       map[string]*Chain
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// signerKey 为空时链只有只读能力，提交交易会被拒绝。
func NewRegistry(ctx context.Context, cfg config.Web3Config, signerKey string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	chains := make(map[string]*Chain)
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		chain, err := buildChain(ctx, name, def, signerKey)
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		chains[name] = chain
	}

	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		chain, err := buildChain(ctx, "default", web3.ChainDefinition{RPCURL: cfg.RPCURL, Confirmations: 1}, signerKey)
		if err != nil {
			return nil, err
		}
		chains["default"] = chain
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(chains))
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, chains: chains}, nil
}

func buildChain(ctx context.Context, name string, def web3.ChainDefinition, signerKey string) (*Chain, error) {
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:   name,
		RPCURL: def.RPCURL,
		Notes:  def.Description,
	})
	if err != nil {
		return nil, err
	}

	var pool common.Address
	if def.PoolAddress != "" {
		if !common.IsHexAddress(def.PoolAddress) {
			client.Close()
			return nil, fmt.Errorf("借贷池地址非法: %s", def.PoolAddress)
		}
		pool = common.HexToAddress(def.PoolAddress)
	}

	confirmations := def.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}

	chain := &Chain{
		Name:          name,
		ChainID:       def.ChainID,
		Pool:          pool,
		Confirmations: confirmations,
		Client:        client,
	}
	if strings.TrimSpace(signerKey) != "" {
		session, err := client.KeyedSession(ctx, signerKey)
		if err != nil {
			client.Close()
			return nil, err
		}
		chain.Session = session
	}
	return chain, nil
}

// DefaultChain returns the chain configured as default.
func (r *Registry) DefaultChain() (*Chain, error) {
	if r == nil {
		return nil, errors.New("未初始化的链注册表")
	}
	chain, ok := r.chains[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return chain, nil
}

// Chain returns the chain identified by name.
func (r *Registry) Chain(name string) (*Chain, bool) {
	if r == nil {
		return nil, false
	}
	chain, ok := r.chains[name]
	return chain, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, chain := range r.chains {
		if chain != nil && chain.Client != nil {
			chain.Client.Close()
		}
		delete(r.chains, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
