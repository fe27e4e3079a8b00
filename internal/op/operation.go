package op

import (
	"encoding/json"

	apperrors "FlowGate/internal/errors"
)

// Kind 区分操作类型。
type Kind string

const (
	KindTransfer      Kind = "transfer"
	KindBridge        Kind = "bridge"
	KindSwap          Kind = "swap"
	KindEnsureAccount Kind = "ensure_account"
)

// IsValidKind 检查操作类型是否受支持。
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindTransfer, KindBridge, KindSwap, KindEnsureAccount:
		return true
	default:
		return false
	}
}

// Status 表示操作在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsValidStatus 检查给定的操作状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// ExecutionResult 保存一次操作执行的结果。Detail 为各操作类型自身的
// 结构化结果（TransferResult、BridgeResult 等）。
type ExecutionResult struct {
	TxID    string          `json:"tx_id,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Operation 描述一次排队执行的出站操作。Payload 为对应操作类型的
// 请求体原文。
type Operation struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	UserID     string           `json:"user_id,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	// Terminal 标记失败不可重试，置位后操作不再参与认领。
	Terminal   bool             `json:"terminal,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

func cloneOperation(operation *Operation) *Operation {
	clone := *operation
	if operation.Result != nil {
		result := *operation.Result
		clone.Result = &result
	}
	if operation.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), operation.Payload...)
	}
	return &clone
}

const (
	CodeOperationNotFound   apperrors.Code = "OPERATION_NOT_FOUND"
	CodeOperationConflict   apperrors.Code = "OPERATION_CONFLICT"
	CodeOperationCompleted  apperrors.Code = "OPERATION_COMPLETED"
	CodeOperationExhausted  apperrors.Code = "OPERATION_RETRIES_EXHAUSTED"
	CodeOperationValidation apperrors.Code = "OPERATION_VALIDATION_FAILED"
	CodeOperationPublish    apperrors.Code = "OPERATION_PUBLISH_FAILED"
	CodeOperationProcessing apperrors.Code = "OPERATION_PROCESSING_FAILED"
)

var (
	// ErrOperationNotFound 表示指定的操作不存在。
	ErrOperationNotFound = apperrors.New(CodeOperationNotFound, "operation not found")
	// ErrOperationConflict 表示操作在当前状态下无法进行所请求的变更。
	ErrOperationConflict = apperrors.New(CodeOperationConflict, "operation conflict", apperrors.WithSeverity(apperrors.SeverityWarning))
	// ErrOperationCompleted 表示操作已经成功完成。
	ErrOperationCompleted = apperrors.New(CodeOperationCompleted, "operation already completed", apperrors.WithSeverity(apperrors.SeverityInfo))
	// ErrOperationExhausted 表示操作的重试次数已经耗尽。
	ErrOperationExhausted = apperrors.New(CodeOperationExhausted, "operation retries exhausted", apperrors.WithSeverity(apperrors.SeverityCritical))
)

func init() {
	apperrors.Register(CodeOperationNotFound, apperrors.Attributes{
		Message:   "operation not found",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeOperationConflict, apperrors.Attributes{
		Message:   "operation conflict",
		Severity:  apperrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeOperationCompleted, apperrors.Attributes{
		Message:   "operation already completed",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeOperationExhausted, apperrors.Attributes{
		Message:   "operation retries exhausted",
		Severity:  apperrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	apperrors.Register(CodeOperationValidation, apperrors.Attributes{
		Message:   "operation validation failed",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeOperationPublish, apperrors.Attributes{
		Message:   "failed to publish operation",
		Severity:  apperrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	apperrors.Register(CodeOperationProcessing, apperrors.Attributes{
		Message:   "operation execution failed",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
