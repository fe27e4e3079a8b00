package wallet

import (
	"context"
	"testing"
	"time"

	apperrors "FlowGate/internal/errors"
)

func TestKeySlotPoolAcquireDistinctSlots(t *testing.T) {
	pool, err := NewKeySlotPool([]int{0, 1, 2}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("构建密钥池失败: %v", err)
	}

	ctx := context.Background()
	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		slot, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("第 %d 次租借失败: %v", i, err)
		}
		if seen[slot.Index] {
			t.Fatalf("key %d 被重复租借", slot.Index)
		}
		seen[slot.Index] = true
	}

	if _, err := pool.Acquire(ctx); apperrors.CodeOf(err) != CodeNoIdleKey {
		t.Fatalf("耗尽后应返回 NO_IDLE_KEY，实际: %v", err)
	}
}

func TestKeySlotPoolReleaseIsIdempotent(t *testing.T) {
	pool, err := NewKeySlotPool([]int{0, 1}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("构建密钥池失败: %v", err)
	}

	slot, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("租借失败: %v", err)
	}

	pool.Release(slot)
	pool.Release(slot)
	pool.Release(KeySlot{Index: 99})

	if got := pool.Idle(); got != pool.Size() {
		t.Fatalf("重复归还后空闲数应为 %d，实际 %d", pool.Size(), got)
	}
}

func TestKeySlotPoolAcquireBlocksUntilRelease(t *testing.T) {
	pool, err := NewKeySlotPool([]int{0}, time.Second)
	if err != nil {
		t.Fatalf("构建密钥池失败: %v", err)
	}

	ctx := context.Background()
	slot, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("租借失败: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		pool.Release(slot)
	}()

	start := time.Now()
	again, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("归还后租借失败: %v", err)
	}
	if again.Index != slot.Index {
		t.Fatalf("期望拿回 key %d，实际 %d", slot.Index, again.Index)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("租借应阻塞到 key 归还")
	}
}

func TestKeySlotPoolAcquireHonoursContext(t *testing.T) {
	pool, err := NewKeySlotPool([]int{0}, time.Minute)
	if err != nil {
		t.Fatalf("构建密钥池失败: %v", err)
	}
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("租借失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := pool.Acquire(ctx); apperrors.CodeOf(err) != CodeNoIdleKey {
		t.Fatalf("上下文取消时应返回 NO_IDLE_KEY，实际: %v", err)
	}
}

func TestNewKeySlotPoolRejectsEmptyIndices(t *testing.T) {
	if _, err := NewKeySlotPool(nil, time.Second); apperrors.CodeOf(err) != CodeNoUsableAccountKey {
		t.Fatalf("空 key 集合应被拒绝，实际: %v", err)
	}
}
