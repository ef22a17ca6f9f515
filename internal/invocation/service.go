package invocation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/pkg/logger"
)

// Executor 是处理器与服务所需的工具集能力，由 toolkit.Toolkit 实现。
type Executor interface {
	Has(name string) bool
	Network() string
	Call(ctx context.Context, name string, args map[string]any) action.Result
}

// Service 负责调用记录的创建与查询。
type Service struct {
	store    Store
	producer Producer
	tools    Executor
}

// NewService 构造调用服务。
func NewService(store Store, producer Producer, tools Executor) *Service {
	return &Service{store: store, producer: producer, tools: tools}
}

// Submit 记录一次调用并推送到队列。已存在的 ID 直接返回原记录，不会重复执行。
func (s *Service) Submit(ctx context.Context, req Request) (*Record, error) {
	name := strings.TrimSpace(req.Tool)
	if name == "" {
		return nil, xerrors.New(CodeInvocationValidation, "工具名称不能为空")
	}
	if s.store == nil || s.producer == nil || s.tools == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用服务未初始化")
	}
	if !s.tools.Has(name) {
		return nil, xerrors.New(action.CodeActionNotFound, fmt.Sprintf("action %q is not available", name),
			xerrors.WithMetadata("action", name))
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	record := &Record{
		ID:        id,
		Tool:      name,
		Network:   s.tools.Network(),
		Arguments: cloneArguments(req.Arguments),
		Status:    StatusPending,
	}
	if err := s.store.Create(ctx, record); err != nil {
		if stdErrors.Is(err, ErrConflict) {
			existing, getErr := s.store.Get(ctx, id)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("调用入队失败", slog.Any("error", err), slog.String("invocation_id", id))
		wrapped := xerrors.Wrap(CodeInvocationPublish, err, "发布调用到队列失败")
		_ = s.store.Complete(ctx, id, Completion{
			Outcome:   action.StatusFailed,
			Output:    "Error queueing " + name + ": " + err.Error(),
			ErrorCode: string(CodeInvocationPublish),
		})
		return nil, wrapped
	}
	logger.Audit().Info("调用入队成功",
		slog.String("invocation_id", id),
		slog.String("tool", name),
		slog.String("network", record.Network),
	)
	return record, nil
}

// Get 返回指定调用的状态。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的调用列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询直到调用结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Done() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
