package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "FlowGate/internal/errors"
)

// MemoryStore 以内存方式保存派生账户映射，主要用于测试。
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*ChildAccount
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*ChildAccount)}
}

// Save 写入或更新账户映射。
func (m *MemoryStore) Save(_ context.Context, account *ChildAccount) error {
	if account == nil || strings.TrimSpace(account.UserID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "账户的 user_id 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	clone := *account
	if existing, ok := m.accounts[account.UserID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.accounts[account.UserID] = &clone
	return nil
}

// GetByUserID 返回用户对应的派生账户。
func (m *MemoryStore) GetByUserID(_ context.Context, userID string) (*ChildAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, apperrors.New(CodeAccountNotFound, "用户尚无派生账户",
			apperrors.WithMetadata("user_id", userID))
	}
	clone := *account
	return &clone, nil
}

// List 按创建时间倒序返回账户。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*ChildAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ChildAccount, 0, len(m.accounts))
	for _, account := range m.accounts {
		clone := *account
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
