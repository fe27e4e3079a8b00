package bridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
	"FlowGate/internal/wallet"
	"FlowGate/pkg/logger"
)

// 跨链模块专用错误码。
const (
	CodeUnsupportedChain apperrors.Code = "UNSUPPORTED_CHAIN"
	CodeUnsupportedToken apperrors.Code = "UNSUPPORTED_TOKEN"
	CodeNoLocalLeg       apperrors.Code = "NO_LOCAL_LEG"
	CodeNoExchangeRate   apperrors.Code = "NO_EXCHANGE_RATE"
)

func init() {
	apperrors.Register(CodeUnsupportedChain, apperrors.Attributes{
		Message:   "chain not supported",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeUnsupportedToken, apperrors.Attributes{
		Message:   "token not supported",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeNoLocalLeg, apperrors.Attributes{
		Message:   "neither side of the route touches the local chain",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeNoExchangeRate, apperrors.Attributes{
		Message:   "no exchange rate available",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// DefaultSlippagePercent 是未显式指定时采用的滑点（百分比）。
var DefaultSlippagePercent = decimal.NewFromFloat(0.5)

var oneHundred = decimal.NewFromInt(100)

// Direction 描述跨链路由相对本地链的方向。
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// BridgeRequest 描述一次跨链转移。Slippage 为百分比，零值表示使用默认滑点。
type BridgeRequest struct {
	SourceChain      string
	DestinationChain string
	Token            string
	Recipient        string
	Amount           decimal.Decimal
	Slippage         decimal.Decimal
}

// BridgePlan 是请求经过校验与换算后的执行计划。
type BridgePlan struct {
	Direction        Direction
	Token            TokenConfig
	SourceChain      ChainConfig
	DestinationChain ChainConfig
	// AdjustedAmount 为 amount × 10^decimals 的整数表示。
	AdjustedAmount decimal.Decimal
	// MinAmountOut 为扣除滑点后的最小可接受数量。
	MinAmountOut decimal.Decimal
	Slippage     decimal.Decimal
}

// BridgeResult 返回已提交的跨链交易。
type BridgeResult struct {
	TxID           string          `json:"tx_id"`
	Direction      Direction       `json:"direction"`
	Token          string          `json:"token"`
	AdjustedAmount decimal.Decimal `json:"adjusted_amount"`
	MinAmountOut   decimal.Decimal `json:"min_amount_out"`
}

// SwapRequest 描述一次本地链上的兑换。
type SwapRequest struct {
	Chain     string
	FromToken string
	ToToken   string
	Recipient string
	Amount    decimal.Decimal
	Slippage  decimal.Decimal
}

// SwapResult 返回已提交的兑换交易与预估成交量。
type SwapResult struct {
	TxID         string          `json:"tx_id"`
	FromAmount   decimal.Decimal `json:"from_amount"`
	ToAmount     decimal.Decimal `json:"to_amount"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
}

// RateProvider 提供两种代币之间的兑换率。
type RateProvider interface {
	Rate(ctx context.Context, chain, fromToken, toToken string) (decimal.Decimal, error)
}

// StaticRateProvider 使用固定的兑换率表，用于没有接入行情源的部署。
type StaticRateProvider struct {
	rates map[string]map[string]decimal.Decimal
}

// NewStaticRateProvider 返回内置兑换率表。
func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{rates: map[string]map[string]decimal.Decimal{
		"FLOW": {
			"USDC": decimal.NewFromFloat(1.25),
			"ETH":  decimal.NewFromFloat(0.0005),
		},
		"USDC": {
			"FLOW": decimal.NewFromFloat(0.8),
			"ETH":  decimal.NewFromFloat(0.0004),
		},
		"ETH": {
			"FLOW": decimal.NewFromInt(2000),
			"USDC": decimal.NewFromInt(2500),
		},
	}}
}

// Rate 实现 RateProvider。
func (p *StaticRateProvider) Rate(_ context.Context, _ string, fromToken, toToken string) (decimal.Decimal, error) {
	if pairs, ok := p.rates[strings.ToUpper(fromToken)]; ok {
		if rate, ok := pairs[strings.ToUpper(toToken)]; ok {
			return rate, nil
		}
	}
	return decimal.Zero, apperrors.New(CodeNoExchangeRate, "没有可用的兑换率",
		apperrors.WithMetadata("from", fromToken),
		apperrors.WithMetadata("to", toToken))
}

// Coordinator 负责跨链与兑换路由：根据目录校验请求、换算精度与滑点，
// 并通过钱包提交本地链上的那一腿交易。
type Coordinator struct {
	catalog Catalog
	wallet  *wallet.Wallet
	rates   RateProvider
	log     *slog.Logger
}

// NewCoordinator 构建协调器。rates 为 nil 时使用内置兑换率表。
func NewCoordinator(catalog Catalog, w *wallet.Wallet, rates RateProvider) *Coordinator {
	if rates == nil {
		rates = NewStaticRateProvider()
	}
	return &Coordinator{
		catalog: catalog,
		wallet:  w,
		rates:   rates,
		log:     logger.Named("bridge"),
	}
}

// Plan 校验请求并生成执行计划，不触达链上。
func (c *Coordinator) Plan(req BridgeRequest) (*BridgePlan, error) {
	source, ok := c.catalog.Chain(req.SourceChain)
	if !ok {
		return nil, apperrors.New(CodeUnsupportedChain, "不支持的源链",
			apperrors.WithMetadata("chain", req.SourceChain))
	}
	dest, ok := c.catalog.Chain(req.DestinationChain)
	if !ok {
		return nil, apperrors.New(CodeUnsupportedChain, "不支持的目标链",
			apperrors.WithMetadata("chain", req.DestinationChain))
	}
	token, ok := c.catalog.Token(req.Token)
	if !ok {
		return nil, apperrors.New(CodeUnsupportedToken, "不支持的代币",
			apperrors.WithMetadata("token", req.Token))
	}
	if req.Amount.Sign() <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "跨链数量必须为正数")
	}

	var direction Direction
	switch {
	case req.DestinationChain == FlowEVMChain:
		direction = DirectionInbound
	case req.SourceChain == FlowEVMChain:
		direction = DirectionOutbound
	default:
		return nil, apperrors.New(CodeNoLocalLeg, "源链或目标链必须包含 flow-evm",
			apperrors.WithMetadata("source", req.SourceChain),
			apperrors.WithMetadata("destination", req.DestinationChain))
	}

	slippage := req.Slippage
	if slippage.Sign() <= 0 {
		slippage = DefaultSlippagePercent
	}

	adjusted := req.Amount.Shift(token.Decimals)
	minOut := adjusted.Mul(oneHundred.Sub(slippage)).Div(oneHundred).Floor()

	return &BridgePlan{
		Direction:        direction,
		Token:            token,
		SourceChain:      source,
		DestinationChain: dest,
		AdjustedAmount:   adjusted.Floor(),
		MinAmountOut:     minOut,
		Slippage:         slippage,
	}, nil
}

// Bridge 根据计划提交本地腿交易。入向路由登记领取，出向路由发送。
func (c *Coordinator) Bridge(ctx context.Context, req BridgeRequest, cb wallet.Callbacks) (*BridgeResult, *wallet.TxHandle, error) {
	plan, err := c.Plan(req)
	if err != nil {
		return nil, nil, err
	}

	tokenAddress, ok := c.catalog.TokenAddress(req.Token, FlowEVMChain)
	if !ok {
		return nil, nil, apperrors.New(CodeUnsupportedToken, "代币未部署在本地链上",
			apperrors.WithMetadata("token", req.Token))
	}

	var (
		script   string
		endpoint uint64
	)
	if plan.Direction == DirectionInbound {
		script = flow.TxBridgeIn
		endpoint = plan.SourceChain.EndpointID
	} else {
		script = flow.TxBridgeOut
		endpoint = plan.DestinationChain.EndpointID
	}

	args := []flow.Value{
		flow.String(tokenAddress),
		flow.UInt64(endpoint),
		flow.String(req.Recipient),
		flow.UInt256(plan.AdjustedAmount.String()),
		flow.UInt256(plan.MinAmountOut.String()),
	}
	handle, err := c.wallet.SendTransaction(ctx, script, args, cb)
	if err != nil {
		return nil, nil, err
	}

	c.log.Info("跨链交易已提交",
		"tx_id", handle.TxID,
		"direction", plan.Direction,
		"token", plan.Token.Symbol,
		"source", req.SourceChain,
		"destination", req.DestinationChain)

	return &BridgeResult{
		TxID:           handle.TxID,
		Direction:      plan.Direction,
		Token:          plan.Token.Symbol,
		AdjustedAmount: plan.AdjustedAmount,
		MinAmountOut:   plan.MinAmountOut,
	}, handle, nil
}

// Swap 在本地链上执行兑换。其他链上的兑换尚未支持。
func (c *Coordinator) Swap(ctx context.Context, req SwapRequest, cb wallet.Callbacks) (*SwapResult, *wallet.TxHandle, error) {
	if _, ok := c.catalog.Chain(req.Chain); !ok {
		return nil, nil, apperrors.New(CodeUnsupportedChain, "不支持的链",
			apperrors.WithMetadata("chain", req.Chain))
	}
	if req.Chain != FlowEVMChain {
		return nil, nil, apperrors.New(CodeNoLocalLeg, "目前仅支持 flow-evm 上的兑换",
			apperrors.WithMetadata("chain", req.Chain))
	}
	fromToken, ok := c.catalog.Token(req.FromToken)
	if !ok {
		return nil, nil, apperrors.New(CodeUnsupportedToken, "不支持的代币",
			apperrors.WithMetadata("token", req.FromToken))
	}
	toToken, ok := c.catalog.Token(req.ToToken)
	if !ok {
		return nil, nil, apperrors.New(CodeUnsupportedToken, "不支持的代币",
			apperrors.WithMetadata("token", req.ToToken))
	}
	if req.Amount.Sign() <= 0 {
		return nil, nil, apperrors.New(apperrors.CodeInvalidArgument, "兑换数量必须为正数")
	}

	fromAddress, ok := fromToken.Addresses[req.Chain]
	if !ok {
		return nil, nil, apperrors.New(CodeUnsupportedToken, "代币未部署在该链上",
			apperrors.WithMetadata("token", req.FromToken))
	}
	toAddress, ok := toToken.Addresses[req.Chain]
	if !ok {
		return nil, nil, apperrors.New(CodeUnsupportedToken, "代币未部署在该链上",
			apperrors.WithMetadata("token", req.ToToken))
	}

	slippage := req.Slippage
	if slippage.Sign() <= 0 {
		slippage = DefaultSlippagePercent
	}

	rate, err := c.rates.Rate(ctx, req.Chain, fromToken.Symbol, toToken.Symbol)
	if err != nil {
		return nil, nil, err
	}

	amountIn := req.Amount.Shift(fromToken.Decimals).Floor()
	minOut := req.Amount.Mul(oneHundred.Sub(slippage)).Div(oneHundred).Shift(toToken.Decimals).Floor()
	toAmount := req.Amount.Mul(rate)

	args := []flow.Value{
		flow.String(fromAddress),
		flow.String(toAddress),
		flow.UInt256(amountIn.String()),
		flow.UInt256(minOut.String()),
		flow.String(req.Recipient),
	}
	handle, err := c.wallet.SendTransaction(ctx, flow.TxSwap, args, cb)
	if err != nil {
		return nil, nil, err
	}

	c.log.Info("兑换交易已提交",
		"tx_id", handle.TxID,
		"from", fromToken.Symbol,
		"to", toToken.Symbol,
		"amount", req.Amount.String())

	return &SwapResult{
		TxID:         handle.TxID,
		FromAmount:   req.Amount,
		ToAmount:     toAmount,
		MinAmountOut: minOut,
	}, handle, nil
}
