package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
	"FlowGate/internal/wallet"
)

type recordedTx struct {
	script string
	args   []flow.Value
}

type recordingClient struct {
	mu   sync.Mutex
	sent []recordedTx
}

func (c *recordingClient) GetAccount(context.Context, string) (*flow.Account, error) {
	return &flow.Account{
		Address: "0x01",
		Keys:    []flow.AccountKey{{Index: 0, Weight: 1000}},
	}, nil
}

func (c *recordingClient) ExecuteScript(context.Context, string, []flow.Value) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (c *recordingClient) SendTransaction(_ context.Context, script string, args []flow.Value, _ flow.Authorization) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, recordedTx{script: script, args: args})
	return "tx-1", nil
}

func (c *recordingClient) SubscribeTxStatus(ctx context.Context, txID string) (*flow.TxSubscription, error) {
	_, cancel := context.WithCancel(ctx)
	out := make(chan flow.TxStatus, 2)
	out <- flow.TxStatus{Code: flow.StatusFinalized}
	out <- flow.TxStatus{Code: flow.StatusSealed}
	close(out)
	return flow.NewTxSubscription(out, cancel), nil
}

func (c *recordingClient) Close() {}

func (c *recordingClient) lastTx(t *testing.T) recordedTx {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("没有提交任何交易")
	}
	return c.sent[len(c.sent)-1]
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingClient) {
	t.Helper()
	client := &recordingClient{}
	w, err := wallet.New(context.Background(), client, "0x01",
		wallet.WithAcquireWait(time.Second), wallet.WithTxTimeout(time.Second))
	if err != nil {
		t.Fatalf("构建钱包失败: %v", err)
	}
	return NewCoordinator(DefaultCatalog(), w, nil), client
}

func argValue(t *testing.T, tx recordedTx, index int) any {
	t.Helper()
	if index >= len(tx.args) {
		t.Fatalf("交易参数不足，期望至少 %d 个，实际 %d 个", index+1, len(tx.args))
	}
	return tx.args[index].Value
}

func TestPlanAdjustsDecimalsAndSlippage(t *testing.T) {
	coordinator := NewCoordinator(DefaultCatalog(), nil, nil)

	plan, err := coordinator.Plan(BridgeRequest{
		SourceChain:      "ethereum",
		DestinationChain: "flow-evm",
		Token:            "USDC",
		Recipient:        "0x1234",
		Amount:           decimal.NewFromInt(100),
		Slippage:         decimal.NewFromFloat(0.5),
	})
	if err != nil {
		t.Fatalf("生成计划失败: %v", err)
	}
	if plan.Direction != DirectionInbound {
		t.Fatalf("目标为 flow-evm 时方向应为 inbound，实际 %s", plan.Direction)
	}
	if plan.AdjustedAmount.String() != "100000000" {
		t.Fatalf("精度换算不符，期望 100000000 实际 %s", plan.AdjustedAmount)
	}
	if plan.MinAmountOut.String() != "99500000" {
		t.Fatalf("滑点换算不符，期望 99500000 实际 %s", plan.MinAmountOut)
	}
}

func TestPlanAppliesDefaultSlippage(t *testing.T) {
	coordinator := NewCoordinator(DefaultCatalog(), nil, nil)

	plan, err := coordinator.Plan(BridgeRequest{
		SourceChain:      "flow-evm",
		DestinationChain: "base",
		Token:            "USDC",
		Recipient:        "0x1234",
		Amount:           decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("生成计划失败: %v", err)
	}
	if plan.Direction != DirectionOutbound {
		t.Fatalf("源为 flow-evm 时方向应为 outbound，实际 %s", plan.Direction)
	}
	if !plan.Slippage.Equal(DefaultSlippagePercent) {
		t.Fatalf("应采用默认滑点 %s，实际 %s", DefaultSlippagePercent, plan.Slippage)
	}
	if plan.MinAmountOut.String() != "199000000" {
		t.Fatalf("默认滑点换算不符，期望 199000000 实际 %s", plan.MinAmountOut)
	}
}

func TestPlanRejectsRouteWithoutLocalLeg(t *testing.T) {
	coordinator := NewCoordinator(DefaultCatalog(), nil, nil)

	_, err := coordinator.Plan(BridgeRequest{
		SourceChain:      "ethereum",
		DestinationChain: "polygon",
		Token:            "USDC",
		Amount:           decimal.NewFromInt(1),
	})
	if apperrors.CodeOf(err) != CodeNoLocalLeg {
		t.Fatalf("两端都不是 flow-evm 时应返回 NO_LOCAL_LEG，实际: %v", err)
	}
}

func TestPlanRejectsUnknownChainAndToken(t *testing.T) {
	coordinator := NewCoordinator(DefaultCatalog(), nil, nil)

	_, err := coordinator.Plan(BridgeRequest{
		SourceChain:      "solana",
		DestinationChain: "flow-evm",
		Token:            "USDC",
		Amount:           decimal.NewFromInt(1),
	})
	if apperrors.CodeOf(err) != CodeUnsupportedChain {
		t.Fatalf("未知链应返回 UNSUPPORTED_CHAIN，实际: %v", err)
	}

	_, err = coordinator.Plan(BridgeRequest{
		SourceChain:      "ethereum",
		DestinationChain: "flow-evm",
		Token:            "DOGE",
		Amount:           decimal.NewFromInt(1),
	})
	if apperrors.CodeOf(err) != CodeUnsupportedToken {
		t.Fatalf("未知代币应返回 UNSUPPORTED_TOKEN，实际: %v", err)
	}
}

func TestBridgeSubmitsInboundClaim(t *testing.T) {
	coordinator, client := newTestCoordinator(t)

	result, handle, err := coordinator.Bridge(context.Background(), BridgeRequest{
		SourceChain:      "ethereum",
		DestinationChain: "flow-evm",
		Token:            "USDC",
		Recipient:        "0xabc",
		Amount:           decimal.NewFromInt(100),
	}, wallet.Callbacks{})
	if err != nil {
		t.Fatalf("跨链提交失败: %v", err)
	}
	if _, err := handle.Wait(context.Background()); err != nil {
		t.Fatalf("交易应成功: %v", err)
	}
	if result.Direction != DirectionInbound {
		t.Fatalf("方向不符: %s", result.Direction)
	}

	tx := client.lastTx(t)
	if tx.script != flow.TxBridgeIn {
		t.Fatal("入向路由应提交领取交易")
	}
	// 参数顺序: token, endpoint, recipient, amount, minOut
	if got := argValue(t, tx, 1); got != "30101" {
		t.Fatalf("入向应携带源链 endpoint，实际 %v", got)
	}
	if got := argValue(t, tx, 3); got != "100000000" {
		t.Fatalf("换算数量不符: %v", got)
	}
	if got := argValue(t, tx, 4); got != "99500000" {
		t.Fatalf("最小到账数量不符: %v", got)
	}
}

func TestBridgeSubmitsOutboundSend(t *testing.T) {
	coordinator, client := newTestCoordinator(t)

	result, _, err := coordinator.Bridge(context.Background(), BridgeRequest{
		SourceChain:      "flow-evm",
		DestinationChain: "arbitrum",
		Token:            "FLOW",
		Recipient:        "0xabc",
		Amount:           decimal.NewFromInt(10),
	}, wallet.Callbacks{})
	if err != nil {
		t.Fatalf("跨链提交失败: %v", err)
	}
	if result.Direction != DirectionOutbound {
		t.Fatalf("方向不符: %s", result.Direction)
	}

	tx := client.lastTx(t)
	if tx.script != flow.TxBridgeOut {
		t.Fatal("出向路由应提交发送交易")
	}
	if got := argValue(t, tx, 1); got != "30110" {
		t.Fatalf("出向应携带目标链 endpoint，实际 %v", got)
	}
}

func TestSwapUsesRateTableAndSlippage(t *testing.T) {
	coordinator, client := newTestCoordinator(t)

	result, _, err := coordinator.Swap(context.Background(), SwapRequest{
		Chain:     "flow-evm",
		FromToken: "FLOW",
		ToToken:   "USDC",
		Recipient: "0xabc",
		Amount:    decimal.NewFromInt(10),
	}, wallet.Callbacks{})
	if err != nil {
		t.Fatalf("兑换提交失败: %v", err)
	}
	if result.ToAmount.String() != "12.5" {
		t.Fatalf("预估成交量不符，期望 12.5 实际 %s", result.ToAmount)
	}
	// minOut = 10 × 0.995 × 10^6
	if result.MinAmountOut.String() != "9950000" {
		t.Fatalf("最小到账数量不符: %s", result.MinAmountOut)
	}

	tx := client.lastTx(t)
	if tx.script != flow.TxSwap {
		t.Fatal("应提交兑换交易")
	}
	if got := argValue(t, tx, 2); got != "10000000000000000000" {
		t.Fatalf("输入数量不符: %v", got)
	}
}

func TestSwapRejectsRemoteChains(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	_, _, err := coordinator.Swap(context.Background(), SwapRequest{
		Chain:     "ethereum",
		FromToken: "FLOW",
		ToToken:   "USDC",
		Amount:    decimal.NewFromInt(1),
	}, wallet.Callbacks{})
	if apperrors.CodeOf(err) != CodeNoLocalLeg {
		t.Fatalf("远端链兑换应被拒绝，实际: %v", err)
	}
}

func TestSwapUnknownPairHasNoRate(t *testing.T) {
	provider := NewStaticRateProvider()
	if _, err := provider.Rate(context.Background(), "flow-evm", "FLOW", "DOGE"); apperrors.CodeOf(err) != CodeNoExchangeRate {
		t.Fatalf("未知兑换对应返回 NO_EXCHANGE_RATE，实际: %v", err)
	}
}
