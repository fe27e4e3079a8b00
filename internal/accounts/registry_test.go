package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/evm"
	"FlowGate/internal/flow"
	"FlowGate/internal/wallet"
)

const nullOptionalJSON = `{"type":"Optional","value":null}`

func accountStatusJSON(address, balance, coaHex string) string {
	coa := "null"
	if coaHex != "" {
		coa = fmt.Sprintf(`{"type":"String","value":"%s"}`, coaHex)
	}
	return fmt.Sprintf(`{"type":"Optional","value":{"type":"Struct","value":{"id":"AccountStatus","fields":[
        {"name":"address","value":{"type":"Address","value":"%s"}},
        {"name":"balance","value":{"type":"UFix64","value":"%s"}},
        {"name":"coaAddress","value":{"type":"Optional","value":%s}}
    ]}}}`, address, balance, coa)
}

// scriptedClient pretends the child account appears on chain once the
// creation transaction has been submitted.
type scriptedClient struct {
	mu        sync.Mutex
	created   bool
	address   string
	coaHex    string
	omitEvent bool
	sends     atomic.Int32
}

func (c *scriptedClient) GetAccount(context.Context, string) (*flow.Account, error) {
	return &flow.Account{
		Address: "0x01",
		Keys: []flow.AccountKey{
			{Index: 0, Weight: 1000},
			{Index: 1, Weight: 1000},
		},
	}, nil
}

func (c *scriptedClient) ExecuteScript(context.Context, string, []flow.Value) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		return json.RawMessage(nullOptionalJSON), nil
	}
	return json.RawMessage(accountStatusJSON(c.address, "12.50000000", c.coaHex)), nil
}

func (c *scriptedClient) SendTransaction(context.Context, string, []flow.Value, flow.Authorization) (string, error) {
	c.mu.Lock()
	c.created = true
	c.mu.Unlock()
	return fmt.Sprintf("tx-%d", c.sends.Add(1)), nil
}

func (c *scriptedClient) SubscribeTxStatus(ctx context.Context, txID string) (*flow.TxSubscription, error) {
	_, cancel := context.WithCancel(ctx)
	out := make(chan flow.TxStatus, 2)
	out <- flow.TxStatus{Code: flow.StatusFinalized}
	sealed := flow.TxStatus{Code: flow.StatusSealed}
	if !c.omitEvent {
		sealed.Events = []flow.Event{{
			Type:   flow.EventAccountCreated,
			Values: map[string]string{"address": c.address},
		}}
	}
	out <- sealed
	close(out)
	return flow.NewTxSubscription(out, cancel), nil
}

func (c *scriptedClient) Close() {}

func newTestRegistry(t *testing.T, client *scriptedClient, evmClient *evm.Client) *Registry {
	t.Helper()
	w, err := wallet.New(context.Background(), client, "0x01",
		wallet.WithAcquireWait(time.Second), wallet.WithTxTimeout(time.Second))
	if err != nil {
		t.Fatalf("构建钱包失败: %v", err)
	}
	registry, err := NewRegistry(RegistryConfig{
		Client:    client,
		Wallet:    w,
		EVMClient: evmClient,
		Store:     NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}
	return registry
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	client := &scriptedClient{address: "0x00000000000000a1"}
	registry := newTestRegistry(t, client, nil)
	ctx := context.Background()

	first, err := registry.EnsureAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("首次 ensure 失败: %v", err)
	}
	second, err := registry.EnsureAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("二次 ensure 失败: %v", err)
	}
	if first.Address != second.Address {
		t.Fatalf("两次 ensure 返回的地址不一致: %s vs %s", first.Address, second.Address)
	}
	if got := client.sends.Load(); got != 1 {
		t.Fatalf("应只提交一笔创建交易，实际 %d 笔", got)
	}
}

func TestEnsureAccountWithoutCreationEvent(t *testing.T) {
	// 交易回执缺少账户创建事件时，应回退到链上查询拿地址。
	client := &scriptedClient{address: "0x00000000000000a1", omitEvent: true}
	registry := newTestRegistry(t, client, nil)

	account, err := registry.EnsureAccount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("事件缺失时 ensure 失败: %v", err)
	}
	if account.Address != "0x00000000000000a1" {
		t.Fatalf("地址不符: %s", account.Address)
	}
}

func TestEnsureAccountSingleFlightUnderConcurrency(t *testing.T) {
	client := &scriptedClient{address: "0x00000000000000a1"}
	registry := newTestRegistry(t, client, nil)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		addresses [callers]string
		errs      [callers]error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account, err := registry.EnsureAccount(ctx, "user-1")
			if err != nil {
				errs[i] = err
				return
			}
			addresses[i] = account.Address
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("并发 ensure 第 %d 个调用失败: %v", i, errs[i])
		}
		if addresses[i] != "0x00000000000000a1" {
			t.Fatalf("并发 ensure 第 %d 个调用返回地址 %s", i, addresses[i])
		}
	}
	if got := client.sends.Load(); got != 1 {
		t.Fatalf("并发 ensure 应只提交一笔创建交易，实际 %d 笔", got)
	}
}

func TestEnsureAccountRejectsEmptyUserID(t *testing.T) {
	registry := newTestRegistry(t, &scriptedClient{address: "0xa1"}, nil)
	if _, err := registry.EnsureAccount(context.Background(), "  "); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("空 user_id 应被拒绝，实际: %v", err)
	}
}

type fixedBalanceBackend struct {
	balance *big.Int
	calls   atomic.Int32
}

func (f *fixedBalanceBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.calls.Add(1)
	return new(big.Int).Set(f.balance), nil
}

func (f *fixedBalanceBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, fmt.Errorf("unexpected contract call")
}

func TestQueryBalanceAggregatesCoaBalance(t *testing.T) {
	backend := &fixedBalanceBackend{balance: big.NewInt(250_000_000_000_000_000)} // 0.25 FLOW
	client := &scriptedClient{created: true, address: "0x00000000000000a1", coaHex: "abcdef0123456789abcdef0123456789abcdef01"}
	registry := newTestRegistry(t, client, evm.NewBackendClient("flow-evm", 747, backend))

	info, err := registry.QueryBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	if info.Balance.String() != "12.5" {
		t.Fatalf("Cadence 余额不符: %s", info.Balance)
	}
	if info.CoaAddress != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("COA 地址不符: %s", info.CoaAddress)
	}
	if info.CoaBalance.String() != "0.25" {
		t.Fatalf("COA 余额不符: %s", info.CoaBalance)
	}
	if got := backend.calls.Load(); got != 1 {
		t.Fatalf("应查询一次 COA 余额，实际 %d 次", got)
	}
}

func TestQueryBalanceWithoutCoaIsZero(t *testing.T) {
	backend := &fixedBalanceBackend{balance: big.NewInt(1)}
	client := &scriptedClient{created: true, address: "0x00000000000000a1"}
	registry := newTestRegistry(t, client, evm.NewBackendClient("flow-evm", 747, backend))

	info, err := registry.QueryBalance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("查询余额失败: %v", err)
	}
	if !info.CoaBalance.IsZero() {
		t.Fatalf("未部署 COA 时余额应为零，实际 %s", info.CoaBalance)
	}
	if got := backend.calls.Load(); got != 0 {
		t.Fatalf("未部署 COA 时不应发起 EVM 查询，实际 %d 次", got)
	}
}

func TestQueryBalanceMissingAccount(t *testing.T) {
	client := &scriptedClient{}
	registry := newTestRegistry(t, client, nil)

	if _, err := registry.QueryBalance(context.Background(), "ghost"); apperrors.CodeOf(err) != CodeAccountNotFound {
		t.Fatalf("缺失账户应返回 ACCOUNT_NOT_FOUND，实际: %v", err)
	}
}
