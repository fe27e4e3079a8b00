package op

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "FlowGate/internal/errors"
)

// MemoryStore 以内存方式保存操作状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu         sync.RWMutex
	operations map[string]*Operation
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{operations: make(map[string]*Operation)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, operation *Operation) error {
	if operation == nil || operation.ID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "操作 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operations[operation.ID]; ok {
		return ErrOperationConflict
	}
	now := time.Now().Unix()
	if operation.CreatedAt == 0 {
		operation.CreatedAt = now
	}
	operation.UpdatedAt = now
	m.operations[operation.ID] = cloneOperation(operation)
	return nil
}

// Get 返回操作。
func (m *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	operation, ok := m.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return cloneOperation(operation), nil
}

// Claim 将操作置为运行中并累加尝试次数。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	operation, ok := m.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch operation.Status {
	case StatusSucceeded:
		return cloneOperation(operation), ErrOperationCompleted
	case StatusRunning:
		return cloneOperation(operation), ErrOperationConflict
	case StatusFailed:
		if operation.Terminal || operation.Attempts >= operation.MaxRetries {
			return cloneOperation(operation), ErrOperationExhausted
		}
	}
	operation.Status = StatusRunning
	operation.Attempts++
	operation.UpdatedAt = time.Now().Unix()
	return cloneOperation(operation), nil
}

// MarkSucceeded 记录执行结果并置为成功。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	operation, ok := m.operations[id]
	if !ok {
		return ErrOperationNotFound
	}
	operation.Status = StatusSucceeded
	operation.Result = &result
	operation.LastError = ""
	operation.ErrorCode = ""
	operation.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 记录失败原因。terminal 为真时不再允许后续重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, errorCode, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	operation, ok := m.operations[id]
	if !ok {
		return ErrOperationNotFound
	}
	operation.Status = StatusFailed
	if terminal {
		operation.Terminal = true
	}
	operation.LastError = lastError
	operation.ErrorCode = errorCode
	operation.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的操作列表。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Operation, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Operation, 0, len(m.operations))
	for _, operation := range m.operations {
		if !matches(operation, opts) {
			continue
		}
		matched = append(matched, cloneOperation(operation))
	}
	sort.Slice(matched, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			return matched[i].UpdatedAt < matched[j].UpdatedAt
		}
		return matched[i].UpdatedAt > matched[j].UpdatedAt
	})

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 返回符合过滤条件的统计信息。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (OperationStats, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats OperationStats
	for _, operation := range m.operations {
		if !matches(operation, opts) {
			continue
		}
		stats.Total++
		switch operation.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if stats.OldestUpdatedAt == 0 || operation.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = operation.UpdatedAt
		}
		if operation.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = operation.UpdatedAt
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func matches(operation *Operation, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if operation.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.Kinds) > 0 {
		found := false
		for _, kind := range opts.Kinds {
			if operation.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.UserID != "" && operation.UserID != opts.UserID {
		return false
	}
	return true
}
