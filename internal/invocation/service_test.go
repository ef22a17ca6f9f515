package invocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
)

type brokenProducer struct{}

func (brokenProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (brokenProducer) Close() error                          { return nil }

func TestSubmitDeduplicatesByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue, newFakeExecutor())

	first, err := svc.Submit(ctx, Request{ID: "order-7", Tool: "transfer", Arguments: map[string]any{"amount": "10"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Status != StatusPending || first.Network != "base-sepolia" {
		t.Fatalf("unexpected record %+v", first)
	}
	second, err := svc.Submit(ctx, Request{ID: "order-7", Tool: "transfer", Arguments: map[string]any{"amount": "99"}})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Arguments["amount"] != "10" {
		t.Fatalf("resubmission replaced the original: %+v", second)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("expected a single queued id, got %d", len(queue.ch))
	}

	generated, err := svc.Submit(ctx, Request{Tool: "approve"})
	if err != nil {
		t.Fatalf("submit without id: %v", err)
	}
	if generated.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestSubmitRejectsUnknownTool(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1), newFakeExecutor())

	_, err := svc.Submit(context.Background(), Request{Tool: "  "})
	if xerrors.CodeOf(err) != CodeInvocationValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = svc.Submit(context.Background(), Request{Tool: "Approve"})
	if xerrors.CodeOf(err) != action.CodeActionNotFound {
		t.Fatalf("expected ACTION_NOT_FOUND, got %v", err)
	}
}

func TestSubmitMarksRecordFailedWhenQueueRejects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, brokenProducer{}, newFakeExecutor())

	_, err := svc.Submit(ctx, Request{ID: "q1", Tool: "approve"})
	if xerrors.CodeOf(err) != CodeInvocationPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	rec, err := store.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusFailed || rec.ErrorCode != string(CodeInvocationPublish) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestWaitUntilCompletedHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(1), newFakeExecutor())
	if err := store.Create(context.Background(), &Record{ID: "slow", Tool: "approve"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := svc.WaitUntilCompleted(ctx, "slow", 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
