package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
	"FlowGate/pkg/logger"
)

// Callbacks 定义交易生命周期各阶段的回调。所有字段均可为 nil。
// 回调中的 panic 会被捕获并记录，不影响 key 的归还与后续流转。
type Callbacks struct {
	// OnStatusUpdated 在收到任一状态更新时触发，包括终态。
	OnStatusUpdated func(txID string, status flow.TxStatus)
	// OnFinalized 在交易进入 Finalized 后触发一次。
	OnFinalized func(txID string, status flow.TxStatus)
	// OnSealed 在交易 Sealed 后触发一次。
	OnSealed func(txID string, status flow.TxStatus)
	// OnFailed 在交易失败（执行出错、过期或超时）时触发一次。
	OnFailed func(txID string, err error)
}

// TxHandle 暴露一笔在途交易的等待接口。
type TxHandle struct {
	TxID string

	finalized     chan struct{}
	finalizedOnce sync.Once
	done          chan struct{}

	mu          sync.Mutex
	finalStatus flow.TxStatus
	err         error
}

func newTxHandle(txID string) *TxHandle {
	return &TxHandle{
		TxID:      txID,
		finalized: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WaitFinalized 阻塞直到交易进入 Finalized（或提前失败）。
func (h *TxHandle) WaitFinalized(ctx context.Context) error {
	select {
	case <-h.finalized:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait 阻塞直到交易到达终态，返回最后一次观察到的状态。
func (h *TxHandle) Wait(ctx context.Context) (flow.TxStatus, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.finalStatus, h.err
	case <-ctx.Done():
		return flow.TxStatus{}, ctx.Err()
	}
}

func (h *TxHandle) markFinalized() {
	h.finalizedOnce.Do(func() { close(h.finalized) })
}

func (h *TxHandle) record(status flow.TxStatus, err error) {
	h.mu.Lock()
	h.finalStatus = status
	if err != nil {
		h.err = err
	}
	h.mu.Unlock()
}

// Tracker 订阅交易状态流并驱动回调，保证占用的签名 key 恰好归还一次。
type Tracker struct {
	client  flow.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewTracker 构建追踪器。timeout 约束交易从提交到 Finalized 的最长等待，
// 超时后按失败处理。
func NewTracker(client flow.Client, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Tracker{
		client:  client,
		timeout: timeout,
		log:     logger.Named("wallet.tracker"),
	}
}

// Track 启动后台追踪。release 在交易 Finalized 或失败时被调用恰好一次；
// 即使状态流异常中断或回调 panic，release 也不会被遗漏。
func (t *Tracker) Track(ctx context.Context, txID string, release func(), cb Callbacks) *TxHandle {
	handle := newTxHandle(txID)

	var releaseOnce sync.Once
	doRelease := func() {
		if release == nil {
			return
		}
		releaseOnce.Do(release)
	}

	go func() {
		defer close(handle.done)
		defer doRelease()
		defer handle.markFinalized()

		fail := func(status flow.TxStatus, err error) {
			doRelease()
			handle.record(status, err)
			handle.markFinalized()
			t.log.Warn("交易追踪以失败结束", "tx_id", txID, "error", err)
			t.invoke("OnFailed", txID, func() {
				if cb.OnFailed != nil {
					cb.OnFailed(txID, err)
				}
			})
		}

		sub, err := t.client.SubscribeTxStatus(ctx, txID)
		if err != nil {
			fail(flow.TxStatus{}, apperrors.Wrap(CodeTrackingInterrupt, err, "订阅交易状态失败",
				apperrors.WithMetadata("tx_id", txID)))
			return
		}
		defer sub.Close()

		timer := time.NewTimer(t.timeout)
		defer timer.Stop()

		finalized := false
		var last flow.TxStatus
		for {
			select {
			case <-ctx.Done():
				fail(last, apperrors.Wrap(CodeTrackingInterrupt, ctx.Err(), "交易追踪被取消",
					apperrors.WithMetadata("tx_id", txID)))
				return

			case <-timer.C:
				fail(last, apperrors.New(CodeTxTimeout, "交易在超时时间内未 Finalized",
					apperrors.WithMetadata("tx_id", txID),
					apperrors.WithMetadata("timeout", t.timeout.String())))
				return

			case status, ok := <-sub.Statuses():
				if !ok {
					if finalized {
						handle.record(last, nil)
						return
					}
					fail(last, apperrors.New(CodeTrackingInterrupt, "交易状态流提前关闭",
						apperrors.WithMetadata("tx_id", txID)))
					return
				}
				last = status

				t.invoke("OnStatusUpdated", txID, func() {
					if cb.OnStatusUpdated != nil {
						cb.OnStatusUpdated(txID, status)
					}
				})

				if status.ErrorMessage != "" {
					fail(status, apperrors.New(CodeExecutionFailure, status.ErrorMessage,
						apperrors.WithMetadata("tx_id", txID)))
					return
				}

				switch status.Code {
				case flow.StatusFinalized, flow.StatusExecuted:
					if finalized {
						continue
					}
					finalized = true
					timer.Stop()
					doRelease()
					t.invoke("OnFinalized", txID, func() {
						if cb.OnFinalized != nil {
							cb.OnFinalized(txID, status)
						}
					})
					handle.markFinalized()

				case flow.StatusSealed:
					if !finalized {
						finalized = true
						doRelease()
						t.invoke("OnFinalized", txID, func() {
							if cb.OnFinalized != nil {
								cb.OnFinalized(txID, status)
							}
						})
						handle.markFinalized()
					}
					t.invoke("OnSealed", txID, func() {
						if cb.OnSealed != nil {
							cb.OnSealed(txID, status)
						}
					})
					handle.record(status, nil)
					return

				case flow.StatusExpired:
					fail(status, apperrors.New(CodeExecutionFailure, "交易已过期",
						apperrors.WithMetadata("tx_id", txID)))
					return
				}
			}
		}
	}()

	return handle
}

// invoke 运行单个回调并吸收其中的 panic。
func (t *Tracker) invoke(name, txID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("交易回调发生 panic", "callback", name, "tx_id", txID, "panic", r)
		}
	}()
	fn()
}
