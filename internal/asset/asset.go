package asset

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	xerrors "LendFlow-Chain/internal/errors"
)

// CodeUnknownAsset 表示请求的代币符号没有配置。
const CodeUnknownAsset xerrors.Code = "ASSET_UNKNOWN"

func init() {
	xerrors.Register(CodeUnknownAsset, xerrors.Attributes{
		Message:   "unknown asset symbol",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Asset 描述一种代币在链上的地址与精度。
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// ParseAmount 将人类可读的数量字符串转换为链上最小单位的整数。
// 非法或非正的数量在任何 I/O 之前被拒绝。
func (a Asset) ParseAmount(human string) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(human))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("无法解析数量 %q", human))
	}
	if !value.IsPositive() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("数量必须为正数: %s", human))
	}
	scaled := value.Shift(a.Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("数量 %s 超出 %s 的精度 %d", human, a.Symbol, a.Decimals))
	}
	return scaled.BigInt(), nil
}

// Definitions 对应 assets.yaml 的结构。
type Definitions struct {
	Assets map[string]Definition `yaml:"assets"`
}

// Definition 描述单个资产的静态配置。
type Definition struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// Resolver 提供符号到资产的只读查询，加载一次后并发安全。
type Resolver struct {
	assets map[string]Asset
}

// LoadResolver 读取资产定义文件并构造 Resolver。
func LoadResolver(path string) (*Resolver, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资产定义文件失败: %w", err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析资产定义失败: %w", err)
	}
	return NewResolver(defs)
}

// NewResolver 根据定义构造 Resolver，符号统一为大写。
func NewResolver(defs Definitions) (*Resolver, error) {
	assets := make(map[string]Asset, len(defs.Assets))
	for symbol, def := range defs.Assets {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产符号不能为空")
		}
		if !common.IsHexAddress(def.Address) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("资产 %s 的地址非法: %s", symbol, def.Address))
		}
		if def.Decimals < 0 || def.Decimals > 36 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("资产 %s 的精度非法: %d", symbol, def.Decimals))
		}
		assets[symbol] = Asset{
			Symbol:   symbol,
			Address:  common.HexToAddress(def.Address),
			Decimals: def.Decimals,
		}
	}
	if len(assets) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置任何资产")
	}
	return &Resolver{assets: assets}, nil
}

// Resolve 按符号查找资产。未知符号直接短路整条流水线。
func (r *Resolver) Resolve(symbol string) (Asset, error) {
	if r == nil {
		return Asset{}, xerrors.New(xerrors.CodeInitializationFailure, "资产解析器未初始化")
	}
	found, ok := r.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Asset{}, xerrors.New(CodeUnknownAsset, fmt.Sprintf("未知资产符号: %s", symbol))
	}
	return found, nil
}

// Symbols 返回已配置的资产符号列表。
func (r *Resolver) Symbols() []string {
	if r == nil {
		return nil
	}
	symbols := make([]string, 0, len(r.assets))
	for symbol := range r.assets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
