package op

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/observability/alerting"
	"FlowGate/internal/observability/metrics"
	"FlowGate/pkg/logger"
)

// Executor 执行一条已入库的操作并返回执行结果。
type Executor interface {
	Execute(ctx context.Context, operation *Operation) (*ExecutionResult, error)
}

// Processor 负责从队列消费操作并交给执行器处理。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动操作处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "未配置操作消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单条队列消息。
func (p *Processor) Handle(ctx context.Context, operationID string) error {
	if p.store == nil || p.executor == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "处理器未初始化")
	}
	operation, err := p.store.Claim(ctx, operationID)
	if err != nil {
		if stdErrors.Is(err, ErrOperationNotFound) || stdErrors.Is(err, ErrOperationCompleted) || stdErrors.Is(err, ErrOperationExhausted) {
			p.logDebug("跳过操作", slog.String("operation_id", operationID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取操作失败", slog.Any("error", err), slog.String("operation_id", operationID))
		p.emitAlert(ctx, &Operation{ID: operationID}, CodeOperationProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, cloneOperation(operation))
	if execErr != nil {
		return p.handleExecutionFailure(ctx, operation, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkSucceeded(ctx, operation.ID, record); err != nil {
		logger.L().Error("标记操作成功状态失败", slog.Any("error", err), slog.String("operation_id", operation.ID))
		if storeErr := p.store.MarkFailed(ctx, operation.ID, string(CodeOperationProcessing), err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("operation_id", operation.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, operation.ID); pubErr != nil {
			return apperrors.Wrap(CodeOperationPublish, pubErr, fmt.Sprintf("操作 %s 在标记成功失败后重投失败", operation.ID))
		}
		logger.Audit().Warn("操作标记成功失败后重试",
			slog.String("operation_id", operation.ID),
			slog.String("kind", string(operation.Kind)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveOperation(string(operation.Kind), "succeeded")
	logger.Audit().Info("操作执行成功",
		slog.String("operation_id", operation.ID),
		slog.String("kind", string(operation.Kind)),
		slog.String("tx_id", record.TxID),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, operation *Operation, execErr error) error {
	code := apperrors.CodeOf(execErr)
	if code == apperrors.CodeUnknown {
		code = CodeOperationProcessing
	}
	retryable := apperrors.RetryableError(execErr)
	terminal := operation.Attempts >= operation.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, operation.ID, string(code), execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记操作失败状态出错", slog.Any("error", storeErr), slog.String("operation_id", operation.ID))
		return storeErr
	}
	outcome := "retry"
	if terminal {
		outcome = "failed"
	}
	metrics.ObserveOperation(string(operation.Kind), outcome)
	logger.Audit().Warn("操作执行失败",
		slog.String("operation_id", operation.ID),
		slog.String("kind", string(operation.Kind)),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", operation.Attempts),
		slog.Int("max_retries", operation.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, operation, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, operation.ID); pubErr != nil {
			return apperrors.Wrap(CodeOperationPublish, pubErr, fmt.Sprintf("操作 %s 重投失败", operation.ID))
		}
		p.logDebug("操作已重新排队", slog.String("operation_id", operation.ID), slog.Int("attempts", operation.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, operation *Operation, code apperrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || operation == nil {
		return
	}
	attrs := apperrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		OperationID: operation.ID,
		Kind:        string(operation.Kind),
		Attempts:    operation.Attempts,
		MaxRetries:  operation.MaxRetries,
		Metadata:    metadata,
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("operation_id", operation.ID),
			slog.String("stage", stage),
		)
	}
}
