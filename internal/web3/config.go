package web3

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述单条链的接入参数与借贷池地址。
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       int64  `yaml:"chain_id"`
	PoolAddress   string `yaml:"pool_address"`
	Confirmations uint64 `yaml:"confirmations"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions 解析链定义文件。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if path == "" {
		return defs, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return defs, fmt.Errorf("读取链配置失败: %w", err)
	}
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return defs, fmt.Errorf("解析链配置失败: %w", err)
	}
	return defs, nil
}
