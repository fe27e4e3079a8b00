package op

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func newStoredOperation(id string, kind Kind, userID string) *Operation {
	return &Operation{
		ID:         id,
		Kind:       kind,
		UserID:     userID,
		Payload:    json.RawMessage(`{}`),
		Status:     StatusPending,
		MaxRetries: 3,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	operation := newStoredOperation("op-1", KindTransfer, "alice")
	if err := store.Create(ctx, operation); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}
	if err := store.Create(ctx, newStoredOperation("op-1", KindTransfer, "alice")); !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("重复创建应返回冲突错误, got %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("查询操作失败: %v", err)
	}
	if got.Kind != KindTransfer || got.UserID != "alice" || got.Status != StatusPending {
		t.Fatalf("查询结果不符: %+v", got)
	}
	if got.CreatedAt == 0 || got.UpdatedAt == 0 {
		t.Fatalf("时间戳未填充: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrOperationNotFound) {
		t.Fatalf("查询不存在的操作应返回 not found, got %v", err)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newStoredOperation("op-1", KindSwap, "")); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}

	claimed, err := store.Claim(ctx, "op-1")
	if err != nil {
		t.Fatalf("领取操作失败: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("领取后的状态不符: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationConflict) {
		t.Fatalf("重复领取应返回冲突错误, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "op-1", ExecutionResult{TxID: "tx-1", Summary: "done"}); err != nil {
		t.Fatalf("标记成功失败: %v", err)
	}
	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationCompleted) {
		t.Fatalf("已完成的操作不应再被领取, got %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("查询操作失败: %v", err)
	}
	if got.Result == nil || got.Result.TxID != "tx-1" {
		t.Fatalf("执行结果未记录: %+v", got.Result)
	}
}

func TestMemoryStoreClaimAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newStoredOperation("op-1", KindBridge, "")); err != nil {
		t.Fatalf("创建操作失败: %v", err)
	}

	if _, err := store.Claim(ctx, "op-1"); err != nil {
		t.Fatalf("领取操作失败: %v", err)
	}
	if err := store.MarkFailed(ctx, "op-1", string(CodeOperationProcessing), "boom", false); err != nil {
		t.Fatalf("标记失败出错: %v", err)
	}

	// 非终态失败可被再次领取。
	claimed, err := store.Claim(ctx, "op-1")
	if err != nil {
		t.Fatalf("失败后的操作应可重新领取: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("重试次数不符: %d", claimed.Attempts)
	}

	if err := store.MarkFailed(ctx, "op-1", string(CodeOperationProcessing), "boom again", true); err != nil {
		t.Fatalf("标记终态失败出错: %v", err)
	}
	if _, err := store.Claim(ctx, "op-1"); !errors.Is(err, ErrOperationExhausted) {
		t.Fatalf("终态失败的操作不应再被领取, got %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("查询操作失败: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(CodeOperationProcessing) {
		t.Fatalf("失败信息未记录: %+v", got)
	}
	if !got.Terminal {
		t.Fatalf("终态失败应置位终止标记: %+v", got)
	}
	// 终止标记不应篡改真实的尝试次数。
	if got.Attempts != 2 {
		t.Fatalf("尝试次数应保持真实值, got %d", got.Attempts)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := []*Operation{
		newStoredOperation("op-1", KindTransfer, "alice"),
		newStoredOperation("op-2", KindTransfer, "bob"),
		newStoredOperation("op-3", KindBridge, "alice"),
		newStoredOperation("op-4", KindSwap, "carol"),
	}
	for _, operation := range seed {
		if err := store.Create(ctx, operation); err != nil {
			t.Fatalf("创建操作失败: %v", err)
		}
	}
	if _, err := store.Claim(ctx, "op-2"); err != nil {
		t.Fatalf("领取操作失败: %v", err)
	}

	byUser, err := store.List(ctx, buildListOptions([]ListOption{WithUserID("alice")}))
	if err != nil {
		t.Fatalf("按用户过滤失败: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("期望 2 条 alice 的操作, got %d", len(byUser))
	}

	byKind, err := store.List(ctx, buildListOptions([]ListOption{WithKinds(KindTransfer)}))
	if err != nil {
		t.Fatalf("按类型过滤失败: %v", err)
	}
	if len(byKind) != 2 {
		t.Fatalf("期望 2 条转账操作, got %d", len(byKind))
	}

	running, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusRunning)}))
	if err != nil {
		t.Fatalf("按状态过滤失败: %v", err)
	}
	if len(running) != 1 || running[0].ID != "op-2" {
		t.Fatalf("期望只有 op-2 处于运行中, got %+v", running)
	}

	limited, err := store.List(ctx, buildListOptions([]ListOption{WithLimit(2), WithOffset(3)}))
	if err != nil {
		t.Fatalf("分页查询失败: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("分页结果数量不符: %d", len(limited))
	}

	stats, err := store.Stats(ctx, buildListOptions(nil))
	if err != nil {
		t.Fatalf("统计查询失败: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 3 || stats.Running != 1 {
		t.Fatalf("统计结果不符: %+v", stats)
	}
}
