package defi

import (
	"context"
	"fmt"
	"strings"

	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/internal/web3/provider"
)

// Dispatcher 按链名路由意图并交给引擎执行。链名为空时使用默认链。
type Dispatcher struct {
	engine   *Engine
	registry *provider.Registry
}

// NewDispatcher 构造意图分发器。
func NewDispatcher(engine *Engine, registry *provider.Registry) *Dispatcher {
	return &Dispatcher{engine: engine, registry: registry}
}

// Execute 在指定链上执行意图。
func (d *Dispatcher) Execute(ctx context.Context, chainName string, in Intent) (*Result, error) {
	if d == nil || d.engine == nil || d.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图分发器未初始化")
	}
	chainName = strings.TrimSpace(chainName)
	if chainName == "" {
		chain, err := d.registry.DefaultChain()
		if err != nil {
			return nil, err
		}
		return d.engine.Execute(ctx, chain, in)
	}
	chain, ok := d.registry.Chain(chainName)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("链 %s 未配置", chainName))
	}
	return d.engine.Execute(ctx, chain, in)
}
