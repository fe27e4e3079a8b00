package wallet

import (
	"context"
	"time"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
	"FlowGate/pkg/logger"
)

// Wallet 将根账户的全部签名 key 组织成并发提交管道：每笔出站交易
// 租借一个 key，提交后由追踪器在 Finalized 或失败时归还。
type Wallet struct {
	client    flow.Client
	address   string
	pool      *KeySlotPool
	submitter *Submitter
	tracker   *Tracker
}

// Option 调整钱包的运行参数。
type Option func(*options)

type options struct {
	acquireWait time.Duration
	txTimeout   time.Duration
}

// WithAcquireWait 设置等待空闲 key 的最长时间。
func WithAcquireWait(d time.Duration) Option {
	return func(o *options) { o.acquireWait = d }
}

// WithTxTimeout 设置交易从提交到 Finalized 的最长等待时间。
func WithTxTimeout(d time.Duration) Option {
	return func(o *options) { o.txTimeout = d }
}

// New 查询根账户的 key 列表并构建钱包。已吊销的 key 不参与轮转。
func New(ctx context.Context, client flow.Client, address string, opts ...Option) (*Wallet, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	account, err := client.GetAccount(ctx, address)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "查询根账户失败",
			apperrors.WithMetadata("address", address))
	}

	indices := make([]int, 0, len(account.Keys))
	for _, key := range account.Keys {
		if key.Revoked || key.Weight <= 0 {
			continue
		}
		indices = append(indices, key.Index)
	}
	if len(indices) == 0 {
		return nil, apperrors.New(CodeNoUsableAccountKey, "根账户没有可用的签名 key",
			apperrors.WithMetadata("address", address))
	}

	pool, err := NewKeySlotPool(indices, o.acquireWait)
	if err != nil {
		return nil, err
	}

	logger.Named("wallet").Info("钱包初始化完成",
		"address", account.Address, "keys", len(indices))

	return &Wallet{
		client:    client,
		address:   account.Address,
		pool:      pool,
		submitter: NewSubmitter(client, account.Address),
		tracker:   NewTracker(client, o.txTimeout),
	}, nil
}

// Address 返回根账户地址。
func (w *Wallet) Address() string { return w.address }

// Pool 暴露底层密钥池，供监控接口读取占用情况。
func (w *Wallet) Pool() *KeySlotPool { return w.pool }

// SendTransaction 租借 key、提交交易并启动生命周期追踪。追踪与请求
// 上下文解耦，调用方取消请求不会中断已提交交易的状态跟进。
func (w *Wallet) SendTransaction(ctx context.Context, script string, args []flow.Value, cb Callbacks) (*TxHandle, error) {
	slot, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	txID, err := w.submitter.Submit(ctx, script, args, slot)
	if err != nil {
		w.pool.Release(slot)
		return nil, err
	}

	trackCtx := context.WithoutCancel(ctx)
	handle := w.tracker.Track(trackCtx, txID, func() { w.pool.Release(slot) }, cb)
	return handle, nil
}
