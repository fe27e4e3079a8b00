package accounts

import "context"

// Store 抽象了派生账户映射的持久化接口。
type Store interface {
	Save(ctx context.Context, account *ChildAccount) error
	GetByUserID(ctx context.Context, userID string) (*ChildAccount, error)
	List(ctx context.Context, limit int) ([]*ChildAccount, error)
	Close() error
}
