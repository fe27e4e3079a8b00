package op

import "context"

// Store 抽象了操作状态的持久化接口。
type Store interface {
	Create(ctx context.Context, operation *Operation) error
	Get(ctx context.Context, id string) (*Operation, error)
	Claim(ctx context.Context, id string) (*Operation, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, errorCode, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Operation, error)
	Stats(ctx context.Context, opts ListOptions) (OperationStats, error)
	Close() error
}
