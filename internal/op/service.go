package op

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"FlowGate/internal/coordinator"
	apperrors "FlowGate/internal/errors"
	"FlowGate/pkg/logger"
)

// SubmitRequest 描述一次操作提交。ID 非空时按幂等语义处理，
// 重复提交返回已存在的操作。
type SubmitRequest struct {
	ID      string          `json:"id,omitempty"`
	Kind    Kind            `json:"kind"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Service 负责操作的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造操作服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的操作并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Operation, error) {
	if s.store == nil || s.producer == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "操作服务未初始化")
	}
	if !IsValidKind(req.Kind) {
		return nil, apperrors.New(CodeOperationValidation, "不支持的操作类型",
			apperrors.WithMetadata("kind", string(req.Kind)))
	}
	if err := validatePayload(req.Kind, req.Payload); err != nil {
		return nil, err
	}

	operationID := strings.TrimSpace(req.ID)
	if operationID != "" {
		operation, err := s.store.Get(ctx, operationID)
		if err == nil {
			return operation, nil
		}
		if !stdErrors.Is(err, ErrOperationNotFound) {
			return nil, err
		}
	} else {
		operationID = uuid.NewString()
	}

	operation := &Operation{
		ID:         operationID,
		Kind:       req.Kind,
		UserID:     strings.TrimSpace(req.UserID),
		Payload:    append(json.RawMessage(nil), req.Payload...),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, operation); err != nil {
		if stdErrors.Is(err, ErrOperationConflict) {
			existing, getErr := s.store.Get(ctx, operationID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrOperationNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, operationID); err != nil {
		logger.L().Error("操作入队失败", slog.Any("error", err), slog.String("operation_id", operationID))
		wrapped := apperrors.Wrap(CodeOperationPublish, err, "发布操作到队列失败")
		_ = s.store.MarkFailed(ctx, operationID, string(CodeOperationPublish), wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("操作入队成功",
		slog.String("operation_id", operationID),
		slog.String("kind", string(operation.Kind)),
		slog.String("user_id", operation.UserID),
		slog.Int("max_retries", operation.MaxRetries),
	)
	return operation, nil
}

// validatePayload 在入队前做一轮请求体校验，避免明显非法的操作
// 进入队列后才反复失败。
func validatePayload(kind Kind, payload json.RawMessage) error {
	if len(payload) == 0 {
		return apperrors.New(CodeOperationValidation, "操作请求体不能为空")
	}
	switch kind {
	case KindTransfer:
		var req coordinator.TransferRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return apperrors.Wrap(CodeOperationValidation, err, "解析转账请求失败")
		}
		return req.Validate()
	case KindBridge:
		var req coordinator.BridgeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return apperrors.Wrap(CodeOperationValidation, err, "解析跨链请求失败")
		}
		return req.Validate()
	case KindSwap:
		var req coordinator.SwapRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return apperrors.Wrap(CodeOperationValidation, err, "解析兑换请求失败")
		}
		return req.Validate()
	case KindEnsureAccount:
		var req coordinator.EnsureAccountRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return apperrors.Wrap(CodeOperationValidation, err, "解析账户请求失败")
		}
		return req.Validate()
	}
	return nil
}

// Get 返回指定操作的状态。
func (s *Service) Get(ctx context.Context, id string) (*Operation, error) {
	if s.store == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "操作存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的操作列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Operation, error) {
	if s.store == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "操作存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的操作统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (OperationStats, error) {
	if s.store == nil {
		return OperationStats{}, apperrors.New(apperrors.CodeInitializationFailure, "操作存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询操作状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Operation, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		operation, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if operation.Status == StatusSucceeded || operation.Status == StatusFailed {
			return operation, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
