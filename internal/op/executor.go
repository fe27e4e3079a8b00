package op

import (
	"context"
	"encoding/json"
	"fmt"

	"FlowGate/internal/coordinator"
	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/wallet"
)

// CoordinatorExecutor 将队列中的操作分派到链上协调器同步执行。
// 交易类操作会等待交易封装完成后才返回结果。
type CoordinatorExecutor struct {
	coordinator *coordinator.Coordinator
}

// NewCoordinatorExecutor 构造 CoordinatorExecutor。
func NewCoordinatorExecutor(c *coordinator.Coordinator) (*CoordinatorExecutor, error) {
	if c == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "coordinator 不能为空")
	}
	return &CoordinatorExecutor{coordinator: c}, nil
}

// Execute 实现 Executor 接口。
func (e *CoordinatorExecutor) Execute(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	if operation == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "operation 不能为空")
	}
	switch operation.Kind {
	case KindTransfer:
		return e.executeTransfer(ctx, operation)
	case KindBridge:
		return e.executeBridge(ctx, operation)
	case KindSwap:
		return e.executeSwap(ctx, operation)
	case KindEnsureAccount:
		return e.executeEnsureAccount(ctx, operation)
	default:
		return nil, apperrors.New(CodeOperationValidation, "未知的操作类型",
			apperrors.WithMetadata("kind", string(operation.Kind)))
	}
}

func (e *CoordinatorExecutor) executeTransfer(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	var req coordinator.TransferRequest
	if err := json.Unmarshal(operation.Payload, &req); err != nil {
		return nil, apperrors.Wrap(CodeOperationValidation, err, "解析转账请求失败")
	}
	result, handle, err := e.coordinator.Transfer(ctx, req, wallet.Callbacks{})
	if err != nil {
		return nil, err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, err
	}
	detail, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "编码转账结果失败")
	}
	return &ExecutionResult{
		TxID:    result.TxID,
		Summary: fmt.Sprintf("transferred %s to %s", result.Amount.String(), result.Recipient),
		Detail:  detail,
	}, nil
}

func (e *CoordinatorExecutor) executeBridge(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	var req coordinator.BridgeRequest
	if err := json.Unmarshal(operation.Payload, &req); err != nil {
		return nil, apperrors.Wrap(CodeOperationValidation, err, "解析跨链请求失败")
	}
	result, handle, err := e.coordinator.Bridge(ctx, req, wallet.Callbacks{})
	if err != nil {
		return nil, err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, err
	}
	detail, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "编码跨链结果失败")
	}
	return &ExecutionResult{
		TxID:    result.TxID,
		Summary: fmt.Sprintf("bridged %s %s %s", result.AdjustedAmount.String(), result.Token, result.Direction),
		Detail:  detail,
	}, nil
}

func (e *CoordinatorExecutor) executeSwap(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	var req coordinator.SwapRequest
	if err := json.Unmarshal(operation.Payload, &req); err != nil {
		return nil, apperrors.Wrap(CodeOperationValidation, err, "解析兑换请求失败")
	}
	result, handle, err := e.coordinator.Swap(ctx, req, wallet.Callbacks{})
	if err != nil {
		return nil, err
	}
	if _, err := handle.Wait(ctx); err != nil {
		return nil, err
	}
	detail, err := json.Marshal(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "编码兑换结果失败")
	}
	return &ExecutionResult{
		TxID:    result.TxID,
		Summary: fmt.Sprintf("swapped %s for %s", result.FromAmount.String(), result.ToAmount.String()),
		Detail:  detail,
	}, nil
}

func (e *CoordinatorExecutor) executeEnsureAccount(ctx context.Context, operation *Operation) (*ExecutionResult, error) {
	var req coordinator.EnsureAccountRequest
	if err := json.Unmarshal(operation.Payload, &req); err != nil {
		return nil, apperrors.Wrap(CodeOperationValidation, err, "解析账户请求失败")
	}
	account, err := e.coordinator.EnsureUserAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	detail, err := json.Marshal(account)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "编码账户结果失败")
	}
	return &ExecutionResult{
		Summary: fmt.Sprintf("account %s ready for user %s", account.Address, account.UserID),
		Detail:  detail,
	}, nil
}
