package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/pkg/logger"
)

// DefaultNotifyTimeout bounds one asynchronous alert delivery.
const DefaultNotifyTimeout = 10 * time.Second

// ToolObserver 把需要人工关注的工具结果转换为告警：交易未确认、回滚或执行失败。
// 参数错误与未知工具属于调用方问题，不告警。
//
// 告警在后台投递，不阻塞工具返回，也不受调用方 ctx 取消影响。
type ToolObserver struct {
	dispatcher Dispatcher
	timeout    time.Duration
	inflight   sync.WaitGroup
}

// ObserverOption 定义 ToolObserver 的可选配置。
type ObserverOption func(*ToolObserver)

// WithNotifyTimeout overrides DefaultNotifyTimeout.
func WithNotifyTimeout(d time.Duration) ObserverOption {
	return func(o *ToolObserver) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewToolObserver 创建 ToolObserver。
func NewToolObserver(dispatcher Dispatcher, opts ...ObserverOption) *ToolObserver {
	o := &ToolObserver{dispatcher: dispatcher, timeout: DefaultNotifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Flush waits for alerts that are still being delivered.
func (o *ToolObserver) Flush() {
	if o == nil {
		return
	}
	o.inflight.Wait()
}

// ObserveInvocation implements toolkit.Observer.
func (o *ToolObserver) ObserveInvocation(ctx context.Context, inv toolkit.Invocation) {
	if o == nil || o.dispatcher == nil {
		return
	}
	event, ok := EventFromInvocation(inv)
	if !ok {
		return
	}

	// 交易因调用方超时变为 pending 时 ctx 已结束，告警仍需送达。
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer cancel()
		if err := o.dispatcher.Notify(notifyCtx, event); err != nil {
			logger.L().Error("告警通知失败",
				slog.Any("error", err),
				slog.String("tool", inv.Tool),
				slog.String("invocation_id", inv.ID),
			)
		}
	}()
}

// EventFromInvocation builds the alert for a call, if it needs one.
func EventFromInvocation(inv toolkit.Invocation) (Event, bool) {
	switch inv.Result.Status {
	case action.StatusFailed, action.StatusPending, action.StatusReverted:
	default:
		return Event{}, false
	}
	code := inv.Result.Code
	if code == "" {
		code = action.CodeActionFailed
	}
	attrs := xerrors.AttributesOf(code)
	return Event{
		Code:            code,
		Message:         inv.Result.String(),
		Severity:        attrs.Severity,
		InvocationID:    inv.ID,
		Tool:            inv.Tool,
		Network:         inv.Network,
		TransactionHash: inv.Result.TransactionHash,
		Metadata: map[string]string{
			"outcome": string(inv.Result.Status),
		},
		OccurredAt: inv.StartedAt.Add(inv.Duration),
	}, true
}

var _ toolkit.Observer = (*ToolObserver)(nil)
