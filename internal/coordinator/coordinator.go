package coordinator

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"FlowGate/internal/accounts"
	"FlowGate/internal/bridge"
	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/evm"
	"FlowGate/internal/flow"
	"FlowGate/internal/wallet"
	"FlowGate/pkg/logger"
)

// 协调器专用错误码。
const CodeInsufficientBalance apperrors.Code = "INSUFFICIENT_BALANCE"

func init() {
	apperrors.Register(CodeInsufficientBalance, apperrors.Attributes{
		Message:   "insufficient balance",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Coordinator 是业务入口：转账、账户管理、跨链与兑换都经由它分发到
// 钱包与各子模块。所有公开方法返回结构化结果，错误统一携带错误码。
type Coordinator struct {
	client    flow.Client
	wallet    *wallet.Wallet
	registry  *accounts.Registry
	bridge    *bridge.Coordinator
	evmClient *evm.Client
	network   string
	log       *slog.Logger
}

// Config 描述协调器的依赖。EVMClient 指向 flow-evm，可为 nil，此时
// ERC20 转账不可用。
type Config struct {
	Client    flow.Client
	Wallet    *wallet.Wallet
	Registry  *accounts.Registry
	Bridge    *bridge.Coordinator
	EVMClient *evm.Client
	Network   string
}

// New 构建协调器。
func New(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil || cfg.Wallet == nil || cfg.Registry == nil || cfg.Bridge == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "协调器缺少必要依赖")
	}
	network := cfg.Network
	if network == "" {
		network = "mainnet"
	}
	return &Coordinator{
		client:    cfg.Client,
		wallet:    cfg.Wallet,
		registry:  cfg.Registry,
		bridge:    cfg.Bridge,
		evmClient: cfg.EVMClient,
		network:   network,
		log:       logger.Named("coordinator"),
	}, nil
}

// TransferResult 返回已提交的转账交易。
type TransferResult struct {
	TxID        string          `json:"tx_id"`
	Token       string          `json:"token,omitempty"`
	Recipient   string          `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	ExplorerURL string          `json:"explorer_url"`
}

// Transfer 从根账户发起转账，支持原生 FLOW、Cadence 同质化代币与
// EVM 侧 ERC20 三种形态。提交前检查两个执行环境的 FLOW 总余额。
func (c *Coordinator) Transfer(ctx context.Context, req TransferRequest, cb wallet.Callbacks) (*TransferResult, *wallet.TxHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	info, err := c.registry.QueryBalance(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	total := info.Balance.Add(info.CoaBalance)
	if req.Form() == TokenNative && total.LessThan(req.Amount) {
		return nil, nil, apperrors.New(CodeInsufficientBalance, "余额不足以完成转账",
			apperrors.WithMetadata("balance", total.String()),
			apperrors.WithMetadata("amount", req.Amount.String()))
	}

	var (
		script string
		args   []flow.Value
	)
	switch req.Form() {
	case TokenNative:
		script = flow.TxTransferFlow
		args = []flow.Value{
			flow.String(req.Recipient),
			flow.UFix64(req.Amount.InexactFloat64()),
		}

	case TokenCadence:
		tokenAddress, contract, ok := flow.SplitCadenceIdentifier(req.Token)
		if !ok {
			return nil, nil, apperrors.New(apperrors.CodeInvalidArgument, "代币标识格式不合法",
				apperrors.WithMetadata("token", req.Token))
		}
		script = flow.TxTransferGenericFT
		args = []flow.Value{
			flow.UFix64(req.Amount.InexactFloat64()),
			flow.Address(req.Recipient),
			flow.Address(tokenAddress),
			flow.String(contract),
		}

	case TokenERC20:
		if c.evmClient == nil {
			return nil, nil, apperrors.New(apperrors.CodeInitializationFailure, "未配置 flow-evm 客户端，无法转账 ERC20")
		}
		decimals, err := c.evmClient.ERC20Decimals(ctx, req.Token)
		if err != nil {
			return nil, nil, err
		}
		adjusted := req.Amount.Shift(int32(decimals)).Floor()
		script = flow.TxTransferERC20
		args = []flow.Value{
			flow.String(req.Token),
			flow.String(req.Recipient),
			flow.UInt256(adjusted.String()),
		}
	}

	handle, err := c.wallet.SendTransaction(ctx, script, args, cb)
	if err != nil {
		return nil, nil, err
	}

	c.log.Info("转账交易已提交",
		"tx_id", handle.TxID,
		"token", req.Token,
		"recipient", req.Recipient,
		"amount", req.Amount.String())

	return &TransferResult{
		TxID:        handle.TxID,
		Token:       req.Token,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		ExplorerURL: explorerURL(c.network, handle.TxID),
	}, handle, nil
}

// EnsureUserAccount 确保用户的派生账户存在并返回其信息。
func (c *Coordinator) EnsureUserAccount(ctx context.Context, req EnsureAccountRequest) (*accounts.ChildAccount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.registry.EnsureAccount(ctx, req.UserID)
}

// QueryAccountInfo 返回账户在两个执行环境下的余额。UserID 为空时
// 查询根账户本身。
func (c *Coordinator) QueryAccountInfo(ctx context.Context, req BalanceRequest) (*accounts.BalanceInfo, error) {
	return c.registry.QueryBalance(ctx, req.UserID)
}

// Bridge 提交一笔跨链转移。
func (c *Coordinator) Bridge(ctx context.Context, req BridgeRequest, cb wallet.Callbacks) (*bridge.BridgeResult, *wallet.TxHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	return c.bridge.Bridge(ctx, bridge.BridgeRequest{
		SourceChain:      req.SourceChain,
		DestinationChain: req.DestinationChain,
		Token:            req.Token,
		Recipient:        req.Recipient,
		Amount:           req.Amount,
		Slippage:         req.Slippage,
	}, cb)
}

// Swap 提交一笔兑换。
func (c *Coordinator) Swap(ctx context.Context, req SwapRequest, cb wallet.Callbacks) (*bridge.SwapResult, *wallet.TxHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	return c.bridge.Swap(ctx, bridge.SwapRequest{
		Chain:     req.Chain,
		FromToken: req.FromToken,
		ToToken:   req.ToToken,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Slippage:  req.Slippage,
	}, cb)
}

// KeyPoolStatus 报告密钥池的占用情况。
type KeyPoolStatus struct {
	Size int `json:"size"`
	Idle int `json:"idle"`
}

// KeyPool 返回密钥池状态，供监控接口使用。
func (c *Coordinator) KeyPool() KeyPoolStatus {
	pool := c.wallet.Pool()
	return KeyPoolStatus{Size: pool.Size(), Idle: pool.Idle()}
}

func explorerURL(network, txID string) string {
	if network == "testnet" {
		return "https://testnet.flowscan.io/tx/" + txID + "/events"
	}
	return "https://flowscan.io/tx/" + txID + "/events"
}
