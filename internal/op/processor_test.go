package op

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	failUntil int32
	failWith  error
	latency   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	count := f.processed.Add(1)
	if f.failWith != nil && (f.failUntil == 0 || count <= f.failUntil) {
		return nil, f.failWith
	}
	return &ExecutionResult{TxID: "tx-" + operation.ID, Summary: "ok"}, nil
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	return nil
}

func (d *captureDispatcher) snapshot() []alerting.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]alerting.Event(nil), d.events...)
}

func transferPayload(t *testing.T, recipient, amount string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"amount":    amount,
	})
	if err != nil {
		t.Fatalf("编码请求体失败: %v", err)
	}
	return payload
}

func TestProcessorHandlesConcurrentOperations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		req := SubmitRequest{
			ID:      fmt.Sprintf("op-%d", i),
			Kind:    KindTransfer,
			Payload: transferPayload(t, "0x1654653399040a61", "1"),
		}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交操作失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("操作未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{
		failUntil: 2,
		failWith:  apperrors.New(CodeOperationProcessing, "暂时性故障"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() {
		_ = processor.Start(ctx)
	}()

	if _, err := service.Submit(ctx, SubmitRequest{
		ID:      "op-retry",
		Kind:    KindTransfer,
		Payload: transferPayload(t, "0x1654653399040a61", "2"),
	}); err != nil {
		t.Fatalf("提交操作失败: %v", err)
	}

	operation, err := service.WaitUntilCompleted(ctx, "op-retry", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待操作完成失败: %v", err)
	}
	if operation.Status != StatusSucceeded {
		t.Fatalf("重试后应执行成功, got %s (%s)", operation.Status, operation.LastError)
	}
	if operation.Attempts != 3 {
		t.Fatalf("期望 3 次尝试, got %d", operation.Attempts)
	}
}

func TestProcessorTerminalFailureEmitsAlert(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{
		failWith: apperrors.New(CodeOperationValidation, "请求体非法"),
	}
	alerts := &captureDispatcher{}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithAlertDispatcher(alerts),
	)

	go func() {
		_ = processor.Start(ctx)
	}()

	if _, err := service.Submit(ctx, SubmitRequest{
		ID:      "op-bad",
		Kind:    KindTransfer,
		Payload: transferPayload(t, "0x1654653399040a61", "3"),
	}); err != nil {
		t.Fatalf("提交操作失败: %v", err)
	}

	operation, err := service.WaitUntilCompleted(ctx, "op-bad", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待操作完成失败: %v", err)
	}
	if operation.Status != StatusFailed {
		t.Fatalf("不可重试的失败应进入终态, got %s", operation.Status)
	}
	if operation.Attempts != 1 {
		t.Fatalf("不可重试的失败不应重试, got %d 次尝试", operation.Attempts)
	}
	if operation.ErrorCode != string(CodeOperationValidation) {
		t.Fatalf("错误码未记录: %q", operation.ErrorCode)
	}
	if !operation.Terminal {
		t.Fatalf("不可重试的失败应置位终止标记: %+v", operation)
	}

	events := alerts.snapshot()
	if len(events) != 1 {
		t.Fatalf("期望 1 条告警, got %d", len(events))
	}
	if events[0].OperationID != "op-bad" || events[0].Code != CodeOperationValidation {
		t.Fatalf("告警内容不符: %+v", events[0])
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	service := NewService(store, queue, 3)
	req := SubmitRequest{
		ID:      "op-dup",
		Kind:    KindTransfer,
		Payload: transferPayload(t, "0x1654653399040a61", "1"),
	}

	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID || second.Status != StatusPending {
		t.Fatalf("重复提交应返回同一操作: %+v vs %+v", first, second)
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("统计查询失败: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("重复提交不应产生新记录, total=%d", stats.Total)
	}
}

func TestServiceSubmitRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)

	_, err := service.Submit(ctx, SubmitRequest{
		Kind:    KindTransfer,
		Payload: transferPayload(t, "", "1"),
	})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("空收款地址应被拒绝, got %v", err)
	}

	_, err = service.Submit(ctx, SubmitRequest{Kind: Kind("unknown"), Payload: json.RawMessage(`{}`)})
	if apperrors.CodeOf(err) != CodeOperationValidation {
		t.Fatalf("未知操作类型应被拒绝, got %v", err)
	}
}
