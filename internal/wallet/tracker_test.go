package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
)

type sentTx struct {
	script string
	args   []flow.Value
	authz  flow.Authorization
}

// fakeFlowClient feeds scripted status streams and records submissions.
type fakeFlowClient struct {
	mu       sync.Mutex
	account  *flow.Account
	sendErr  error
	subErr   error
	sent     []sentTx
	statuses []flow.TxStatus
	hold     bool
	nextID   atomic.Int32
}

func (f *fakeFlowClient) GetAccount(context.Context, string) (*flow.Account, error) {
	if f.account == nil {
		return nil, errors.New("account not configured")
	}
	return f.account, nil
}

func (f *fakeFlowClient) ExecuteScript(context.Context, string, []flow.Value) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFlowClient) SendTransaction(_ context.Context, script string, args []flow.Value, authz flow.Authorization) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentTx{script: script, args: args, authz: authz})
	return "tx-" + strconv.Itoa(int(f.nextID.Add(1))), nil
}

func (f *fakeFlowClient) SubscribeTxStatus(ctx context.Context, txID string) (*flow.TxSubscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan flow.TxStatus, len(f.statuses))
	go func() {
		defer close(out)
		for _, status := range f.statuses {
			select {
			case <-streamCtx.Done():
				return
			case out <- status:
			}
		}
		// hold 模式下保持流打开，直到订阅被取消。
		if f.hold {
			<-streamCtx.Done()
		}
	}()
	return flow.NewTxSubscription(out, cancel), nil
}

func (f *fakeFlowClient) Close() {}

func waitDone(t *testing.T, handle *TxHandle) (flow.TxStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := handle.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("等待交易终态超时")
	}
	return status, err
}

func TestTrackerCallbackOrderAndRelease(t *testing.T) {
	client := &fakeFlowClient{statuses: []flow.TxStatus{
		{Code: flow.StatusPending},
		{Code: flow.StatusFinalized},
		{Code: flow.StatusSealed},
	}}
	tracker := NewTracker(client, time.Second)

	var (
		mu       sync.Mutex
		order    []string
		releases atomic.Int32
	)
	record := func(event string) {
		mu.Lock()
		order = append(order, event)
		mu.Unlock()
	}

	handle := tracker.Track(context.Background(), "tx-1", func() { releases.Add(1) }, Callbacks{
		OnStatusUpdated: func(string, flow.TxStatus) { record("update") },
		OnFinalized:     func(string, flow.TxStatus) { record("finalized") },
		OnSealed:        func(string, flow.TxStatus) { record("sealed") },
		OnFailed:        func(string, error) { record("failed") },
	})

	status, err := waitDone(t, handle)
	if err != nil {
		t.Fatalf("交易应成功结束: %v", err)
	}
	if status.Code != flow.StatusSealed {
		t.Fatalf("终态应为 Sealed，实际 %s", status.Code)
	}
	if got := releases.Load(); got != 1 {
		t.Fatalf("key 应恰好归还一次，实际 %d 次", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"update", "update", "finalized", "update", "sealed"}
	if len(order) != len(want) {
		t.Fatalf("回调序列不符: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("回调序列不符: %v", order)
		}
	}
}

func TestTrackerReleasesOnceAcrossFinalizedAndSealed(t *testing.T) {
	client := &fakeFlowClient{statuses: []flow.TxStatus{
		{Code: flow.StatusFinalized},
		{Code: flow.StatusExecuted},
		{Code: flow.StatusSealed},
	}}
	tracker := NewTracker(client, time.Second)

	var releases atomic.Int32
	handle := tracker.Track(context.Background(), "tx-1", func() { releases.Add(1) }, Callbacks{})

	if _, err := waitDone(t, handle); err != nil {
		t.Fatalf("交易应成功结束: %v", err)
	}
	if got := releases.Load(); got != 1 {
		t.Fatalf("key 应恰好归还一次，实际 %d 次", got)
	}
}

func TestTrackerTimeoutFailsAndReleases(t *testing.T) {
	client := &fakeFlowClient{statuses: []flow.TxStatus{{Code: flow.StatusPending}}, hold: true}
	tracker := NewTracker(client, 30*time.Millisecond)

	var (
		releases atomic.Int32
		failErr  atomic.Value
	)
	handle := tracker.Track(context.Background(), "tx-1", func() { releases.Add(1) }, Callbacks{
		OnFailed: func(_ string, err error) { failErr.Store(err) },
	})

	_, err := waitDone(t, handle)
	if apperrors.CodeOf(err) != CodeTxTimeout {
		t.Fatalf("应以超时失败，实际: %v", err)
	}
	if got := releases.Load(); got != 1 {
		t.Fatalf("超时后 key 应归还一次，实际 %d 次", got)
	}
	stored, _ := failErr.Load().(error)
	if apperrors.CodeOf(stored) != CodeTxTimeout {
		t.Fatalf("OnFailed 应收到超时错误，实际: %v", stored)
	}
}

func TestTrackerExecutionErrorFails(t *testing.T) {
	client := &fakeFlowClient{statuses: []flow.TxStatus{
		{Code: flow.StatusPending},
		{Code: flow.StatusExecuted, ErrorMessage: "assertion failed"},
	}}
	tracker := NewTracker(client, time.Second)

	var releases atomic.Int32
	handle := tracker.Track(context.Background(), "tx-1", func() { releases.Add(1) }, Callbacks{})

	_, err := waitDone(t, handle)
	if apperrors.CodeOf(err) != CodeExecutionFailure {
		t.Fatalf("执行出错应返回 TX_EXECUTION_FAILURE，实际: %v", err)
	}
	if got := releases.Load(); got != 1 {
		t.Fatalf("失败后 key 应归还一次，实际 %d 次", got)
	}
}

func TestTrackerPanickingCallbackStillReleases(t *testing.T) {
	client := &fakeFlowClient{statuses: []flow.TxStatus{
		{Code: flow.StatusFinalized},
		{Code: flow.StatusSealed},
	}}
	tracker := NewTracker(client, time.Second)

	var releases atomic.Int32
	handle := tracker.Track(context.Background(), "tx-1", func() { releases.Add(1) }, Callbacks{
		OnStatusUpdated: func(string, flow.TxStatus) { panic("callback exploded") },
		OnFinalized:     func(string, flow.TxStatus) { panic("callback exploded") },
	})

	if _, err := waitDone(t, handle); err != nil {
		t.Fatalf("回调 panic 不应导致交易失败: %v", err)
	}
	if got := releases.Load(); got != 1 {
		t.Fatalf("回调 panic 后 key 仍应归还一次，实际 %d 次", got)
	}
}

func TestWalletSendReleasesSlotOnSubmitError(t *testing.T) {
	client := &fakeFlowClient{
		account: &flow.Account{
			Address: "0x1",
			Keys:    []flow.AccountKey{{Index: 0, Weight: 1000}},
		},
		sendErr: errors.New("access node unreachable"),
	}

	w, err := New(context.Background(), client, "0x1",
		WithAcquireWait(50*time.Millisecond), WithTxTimeout(time.Second))
	if err != nil {
		t.Fatalf("构建钱包失败: %v", err)
	}

	if _, err := w.SendTransaction(context.Background(), "transaction {}", nil, Callbacks{}); apperrors.CodeOf(err) != CodeSubmitFailure {
		t.Fatalf("提交失败应返回 TX_SUBMIT_FAILURE，实际: %v", err)
	}
	if got := w.Pool().Idle(); got != 1 {
		t.Fatalf("提交失败后 key 应立即归还，空闲数 %d", got)
	}
}

func TestWalletSkipsRevokedKeys(t *testing.T) {
	client := &fakeFlowClient{
		account: &flow.Account{
			Address: "0x1",
			Keys: []flow.AccountKey{
				{Index: 0, Weight: 1000},
				{Index: 1, Weight: 1000, Revoked: true},
				{Index: 2, Weight: 1000},
			},
		},
	}

	w, err := New(context.Background(), client, "0x1")
	if err != nil {
		t.Fatalf("构建钱包失败: %v", err)
	}
	if got := w.Pool().Size(); got != 2 {
		t.Fatalf("吊销 key 不应入池，期望 2 实际 %d", got)
	}
}
