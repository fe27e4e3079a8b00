package bridge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FlowEVMChain 是本地 EVM 腿所在链的名称。
const FlowEVMChain = "flow-evm"

// ChainConfig 描述一条受支持链的跨链参数。
type ChainConfig struct {
	Name          string `yaml:"name"`
	ChainID       int64  `yaml:"chain_id"`
	EndpointID    uint64 `yaml:"endpoint_id"`
	RPCURL        string `yaml:"rpc_url"`
	TokenAddress  string `yaml:"token_address"`
	BridgeAddress string `yaml:"bridge_address"`
}

// TokenConfig 描述一种受支持代币及其在各链上的合约地址。
type TokenConfig struct {
	Symbol    string            `yaml:"symbol"`
	Name      string            `yaml:"name"`
	Decimals  int32             `yaml:"decimals"`
	Addresses map[string]string `yaml:"addresses"`
}

// Catalog 汇总链与代币的静态目录，可由 YAML 覆盖内置默认值。
type Catalog struct {
	Chains map[string]ChainConfig `yaml:"chains"`
	Tokens map[string]TokenConfig `yaml:"tokens"`
}

// DefaultCatalog 返回内置目录，覆盖主网的常用链与代币。
func DefaultCatalog() Catalog {
	return Catalog{
		Chains: map[string]ChainConfig{
			"flow-evm": {
				Name:          "Flow EVM",
				ChainID:       747,
				EndpointID:    30747,
				RPCURL:        "https://mainnet.flow-evm.com",
				TokenAddress:  "0x0000000000000000000000000000000000000000",
				BridgeAddress: "0x9a1cB6b0EF4B6B8E0D181bE32F85C2111BA56b11",
			},
			"arbitrum": {
				Name:          "Arbitrum",
				ChainID:       42161,
				EndpointID:    30110,
				RPCURL:        "https://arb1.arbitrum.io/rpc",
				TokenAddress:  "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
				BridgeAddress: "0x12DcEd4DcD8f0D1B5dCB8f568E1152B8b46eD200",
			},
			"base": {
				Name:          "Base",
				ChainID:       8453,
				EndpointID:    30184,
				RPCURL:        "https://mainnet.base.org",
				TokenAddress:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				BridgeAddress: "0x4F1F9841a8D61FE5786a608c5E97C0d98cad10aE",
			},
			"ethereum": {
				Name:          "Ethereum",
				ChainID:       1,
				EndpointID:    30101,
				RPCURL:        "https://mainnet.infura.io/v3/your-infura-key",
				TokenAddress:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				BridgeAddress: "0x66A2A913e447d6b4BF33EFbec43aAeF87890FBbc",
			},
			"optimism": {
				Name:          "Optimism",
				ChainID:       10,
				EndpointID:    30111,
				RPCURL:        "https://mainnet.optimism.io",
				TokenAddress:  "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
				BridgeAddress: "0x4200000000000000000000000000000000000010",
			},
			"polygon": {
				Name:          "Polygon",
				ChainID:       137,
				EndpointID:    30109,
				RPCURL:        "https://polygon-rpc.com",
				TokenAddress:  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
				BridgeAddress: "0x2036E2F5AE9b3d62BB3566b9E8CCB5fFA4C720B5",
			},
		},
		Tokens: map[string]TokenConfig{
			"FLOW": {
				Symbol:   "FLOW",
				Name:     "Flow Token",
				Decimals: 18,
				Addresses: map[string]string{
					"flow-evm": "0x0000000000000000000000000000000000000000",
					"arbitrum": "0x8CE0233eE5E2a1d8ee1BE22fF3AC0D5309113D3a",
					"base":     "0x3223f17957Ba502cbe71401D55A0DB26E5F7c68F",
					"ethereum": "0x5C147e74D63B1D31AA3Fd78Eb229B65161983B2b",
					"optimism": "0x6aB5Ae6822647046626e83ee6dB8187151E1d5ab",
					"polygon":  "0x8C92e38eCA8210f4fcBf17F0951b198Dd7668292",
				},
			},
			"USDC": {
				Symbol:   "USDC",
				Name:     "USD Coin",
				Decimals: 6,
				Addresses: map[string]string{
					"flow-evm": "0x1152D48d1b3B7eaD0e4a5189C5c92C2e38c8AE99",
					"arbitrum": "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
					"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
					"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
					"optimism": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
					"polygon":  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
				},
			},
			"ETH": {
				Symbol:   "ETH",
				Name:     "Ethereum",
				Decimals: 18,
				Addresses: map[string]string{
					"flow-evm": "0x74A9a6F7Ec4d4AFbf619a4652CeA1F2A90358f8F",
					"arbitrum": "0x0000000000000000000000000000000000000000",
					"base":     "0x0000000000000000000000000000000000000000",
					"ethereum": "0x0000000000000000000000000000000000000000",
					"optimism": "0x0000000000000000000000000000000000000000",
					"polygon":  "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
				},
			},
		},
	}
}

// LoadCatalog 解析 YAML 目录文件。path 为空时返回内置目录；文件中
// 省略的段落同样回落到内置默认值。
func LoadCatalog(path string) (Catalog, error) {
	defaults := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("读取跨链目录失败: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(content, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("解析跨链目录失败: %w", err)
	}
	if catalog.Chains == nil {
		catalog.Chains = defaults.Chains
	}
	if catalog.Tokens == nil {
		catalog.Tokens = defaults.Tokens
	}
	return catalog, nil
}

// Chain 返回链配置。
func (c Catalog) Chain(name string) (ChainConfig, bool) {
	chain, ok := c.Chains[name]
	return chain, ok
}

// Token 返回代币配置，符号不区分大小写。
func (c Catalog) Token(symbol string) (TokenConfig, bool) {
	token, ok := c.Tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// TokenAddress 返回代币在指定链上的合约地址。
func (c Catalog) TokenAddress(symbol, chain string) (string, bool) {
	token, ok := c.Token(symbol)
	if !ok {
		return "", false
	}
	address, ok := token.Addresses[chain]
	return address, ok
}
