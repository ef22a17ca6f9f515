package invocation

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/observability/alerting"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/pkg/logger"
)

// Processor 从队列消费调用并交给工具集执行。
// 每条记录只会被领取一次；执行结果无论成败都写回存储，绝不重新入队。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
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

// WithAlertDispatcher 配置存储层故障的告警派发器。工具结果的告警由 toolkit 观察者负责。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Component("invocation.processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，阻塞直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置调用消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	record, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrNotFound) || stdErrors.Is(err, ErrAlreadyClaimed) {
			p.logger.Debug("跳过调用", slog.String("invocation_id", id), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取调用失败", slog.Any("error", err), slog.String("invocation_id", id))
		p.emitAlert(ctx, &Record{ID: id}, err, "claim")
		return err
	}

	result := p.executor.Call(toolkit.WithInvocationID(ctx, record.ID), record.Tool, record.Arguments)
	completion := CompletionFrom(result)

	// 执行结束后 ctx 可能已取消，结果仍需落库。
	storeCtx := context.WithoutCancel(ctx)
	if err := p.store.Complete(storeCtx, record.ID, completion); err != nil {
		logger.L().Error("写入调用结果失败",
			slog.Any("error", err),
			slog.String("invocation_id", record.ID),
			slog.String("tx_hash", completion.TransactionHash),
		)
		p.emitAlert(storeCtx, record, err, "complete")
		return err
	}
	p.logger.Debug("调用完成",
		slog.String("invocation_id", record.ID),
		slog.String("tool", record.Tool),
		slog.String("outcome", string(completion.Outcome)),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, record *Record, cause error, stage string) {
	if p == nil || p.alerter == nil || record == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:         code,
		Message:      cause.Error(),
		Severity:     attrs.Severity,
		InvocationID: record.ID,
		Tool:         record.Tool,
		Network:      record.Network,
		Metadata:     map[string]string{"stage": stage},
		OccurredAt:   time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("invocation_id", record.ID),
			slog.String("stage", stage),
		)
	}
}
