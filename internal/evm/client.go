package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// erc20ABI covers the read-only subset needed for balance lookups.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// callBackend mirrors the subset of ethclient methods the client relies on,
// so tests can supply an in-memory stand-in.
type callBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements read-only queries against one EVM compatible chain.
// Flow EVM exposes the same surface as any other chain here, so COA balance
// lookups and remote-chain token queries share this type.
type Client struct {
	name      string
	notes     string
	chainID   int64
	rpcClient *gethrpc.Client
	backend   callBackend
	abi       abi.ABI
	mu        sync.Mutex

	decimalsCache sync.Map // contract address -> uint8
}

// NewClient dials the configured RPC endpoint and returns a ready client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 EVM RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 EVM 节点失败: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		chainID:   cfg.ChainID,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
		abi:       parsed,
	}, nil
}

// NewBackendClient wraps an existing backend, mainly for tests.
func NewBackendClient(name string, chainID int64, backend callBackend) *Client {
	parsed, _ := abi.JSON(strings.NewReader(erc20ABI))
	return &Client{
		name:    name,
		chainID: chainID,
		backend: backend,
		abi:     parsed,
	}
}

// Name reports the configured chain name.
func (c *Client) Name() string { return c.name }

// ChainID reports the configured chain id.
func (c *Client) ChainID() int64 { return c.chainID }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.backend = nil
}

// NativeBalance returns the native token balance of the address in wei.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(address)
	if addr == "" {
		return nil, errors.New("查询余额需要提供地址")
	}
	balance, err := backend.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 原生余额失败: %w", c.name, err)
	}
	return balance, nil
}

// ERC20BalanceOf returns the raw token balance of owner on the given contract.
func (c *Client) ERC20BalanceOf(ctx context.Context, contract, owner string) (*big.Int, error) {
	backend, err := c.ready()
	if err != nil {
		return nil, err
	}
	input, err := c.abi.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	output, err := c.call(ctx, backend, contract, input)
	if err != nil {
		return nil, err
	}
	results, err := c.abi.Unpack("balanceOf", output)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("解析 balanceOf 返回值失败: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("balanceOf 返回值类型异常")
	}
	return balance, nil
}

// ERC20Decimals returns the decimals of the given contract, cached per client.
func (c *Client) ERC20Decimals(ctx context.Context, contract string) (uint8, error) {
	key := strings.ToLower(strings.TrimSpace(contract))
	if cached, ok := c.decimalsCache.Load(key); ok {
		return cached.(uint8), nil
	}

	backend, err := c.ready()
	if err != nil {
		return 0, err
	}
	input, err := c.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("编码 decimals 调用失败: %w", err)
	}
	output, err := c.call(ctx, backend, contract, input)
	if err != nil {
		return 0, err
	}
	results, err := c.abi.Unpack("decimals", output)
	if err != nil || len(results) == 0 {
		return 0, fmt.Errorf("解析 decimals 返回值失败: %w", err)
	}
	decimals, ok := results[0].(uint8)
	if !ok {
		return 0, errors.New("decimals 返回值类型异常")
	}
	c.decimalsCache.Store(key, decimals)
	return decimals, nil
}

func (c *Client) call(ctx context.Context, backend callBackend, contract string, input []byte) ([]byte, error) {
	to := common.HexToAddress(contract)
	output, err := backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 合约失败: %w", c.name, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("合约 %s 无返回数据", contract)
	}
	return output, nil
}

func (c *Client) ready() (callBackend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的 EVM 客户端")
	}
	return c.backend, nil
}
