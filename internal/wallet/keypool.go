package wallet

import (
	"context"
	"sync"
	"time"

	apperrors "FlowGate/internal/errors"
)

// 钱包模块专用错误码。
const (
	CodeNoIdleKey          apperrors.Code = "NO_IDLE_KEY"
	CodeSubmitFailure      apperrors.Code = "TX_SUBMIT_FAILURE"
	CodeTxTimeout          apperrors.Code = "TX_TIMEOUT"
	CodeExecutionFailure   apperrors.Code = "TX_EXECUTION_FAILURE"
	CodeTrackingInterrupt  apperrors.Code = "TX_TRACKING_INTERRUPTED"
	CodeNoUsableAccountKey apperrors.Code = "NO_USABLE_ACCOUNT_KEY"
)

func init() {
	apperrors.Register(CodeNoIdleKey, apperrors.Attributes{
		Message:   "no idle signing key",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	apperrors.Register(CodeSubmitFailure, apperrors.Attributes{
		Message:   "transaction submission failed",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	apperrors.Register(CodeTxTimeout, apperrors.Attributes{
		Message:   "transaction timed out before finalization",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	apperrors.Register(CodeExecutionFailure, apperrors.Attributes{
		Message:   "transaction execution failed",
		Severity:  apperrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeTrackingInterrupt, apperrors.Attributes{
		Message:   "transaction tracking interrupted",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	apperrors.Register(CodeNoUsableAccountKey, apperrors.Attributes{
		Message:   "account has no usable signing key",
		Severity:  apperrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// KeySlot 代表账户上的一个签名 key，同一时刻只允许一笔在途交易占用。
type KeySlot struct {
	Index int
}

// KeySlotPool 管理账户全部可用 key 的租借。Acquire 在没有空闲 key 时
// 阻塞等待，Release 支持重复调用且只生效一次。
type KeySlotPool struct {
	idle        chan int
	acquireWait time.Duration

	mu   sync.Mutex
	busy map[int]bool
}

// NewKeySlotPool 基于给定的 key 序号集合构建池。
func NewKeySlotPool(indices []int, acquireWait time.Duration) (*KeySlotPool, error) {
	if len(indices) == 0 {
		return nil, apperrors.New(CodeNoUsableAccountKey, "密钥池不能为空")
	}
	if acquireWait <= 0 {
		acquireWait = 30 * time.Second
	}

	idle := make(chan int, len(indices))
	busy := make(map[int]bool, len(indices))
	for _, index := range indices {
		if _, exists := busy[index]; exists {
			continue
		}
		busy[index] = false
		idle <- index
	}
	return &KeySlotPool{idle: idle, acquireWait: acquireWait, busy: busy}, nil
}

// Acquire 取出一个空闲 key。所有 key 均被占用时阻塞，直到有 key 归还、
// 上下文取消或等待超时。
func (p *KeySlotPool) Acquire(ctx context.Context) (KeySlot, error) {
	select {
	case index := <-p.idle:
		p.markBusy(index)
		return KeySlot{Index: index}, nil
	default:
	}

	timer := time.NewTimer(p.acquireWait)
	defer timer.Stop()

	select {
	case index := <-p.idle:
		p.markBusy(index)
		return KeySlot{Index: index}, nil
	case <-ctx.Done():
		return KeySlot{}, apperrors.Wrap(CodeNoIdleKey, ctx.Err(), "等待空闲签名 key 时上下文已取消")
	case <-timer.C:
		return KeySlot{}, apperrors.New(CodeNoIdleKey, "等待空闲签名 key 超时",
			apperrors.WithMetadata("wait", p.acquireWait.String()))
	}
}

// Release 归还 key。对已空闲或未知的 key 调用不产生任何效果。
func (p *KeySlotPool) Release(slot KeySlot) {
	p.mu.Lock()
	occupied, known := p.busy[slot.Index]
	if !known || !occupied {
		p.mu.Unlock()
		return
	}
	p.busy[slot.Index] = false
	p.mu.Unlock()

	p.idle <- slot.Index
}

// Size 返回池中的 key 总数。
func (p *KeySlotPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// Idle 返回当前空闲的 key 数量。
func (p *KeySlotPool) Idle() int {
	return len(p.idle)
}

func (p *KeySlotPool) markBusy(index int) {
	p.mu.Lock()
	p.busy[index] = true
	p.mu.Unlock()
}
