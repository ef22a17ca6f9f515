package invocation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"OpenMCP-WalletKit/internal/action"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)
	for _, r := range []*Record{
		{ID: "i1", Tool: "approve"},
		{ID: "i2", Tool: "transfer"},
		{ID: "i3", Tool: "approve"},
	} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}
	if err := store.Complete(ctx, "i2", Completion{Outcome: action.StatusReverted, TransactionHash: "0x02"}); err != nil {
		t.Fatalf("complete i2: %v", err)
	}
	if err := store.Complete(ctx, "i3", Completion{Outcome: action.StatusSuccess, TransactionHash: "0x03"}); err != nil {
		t.Fatalf("complete i3: %v", err)
	}

	store.mu.Lock()
	store.records["i1"].UpdatedAt = base.Unix()
	store.records["i2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["i3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "i3" {
		t.Fatalf("expected newest record first, got %+v", all)
	}

	failed, err := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "i2" || failed[0].Outcome != action.StatusReverted {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	approvals, err := store.List(ctx, BuildListOptions(WithTool("approve"), WithSortOrder(SortByUpdatedAsc)))
	if err != nil {
		t.Fatalf("list approvals: %v", err)
	}
	if len(approvals) != 2 || approvals[0].ID != "i1" {
		t.Fatalf("unexpected approvals: %+v", approvals)
	}

	recent, err := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(45*time.Second))))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "i3" {
		t.Fatalf("unexpected recent: %+v", recent)
	}

	paged, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].ID != "i2" {
		t.Fatalf("unexpected page: %+v", paged)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OldestUpdatedAt != base.Unix() || stats.NewestUpdatedAt != base.Add(60*time.Second).Unix() {
		t.Fatalf("unexpected stats range %+v", stats)
	}
}

func TestMemoryStoreClaimOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Record{ID: "only", Tool: "approve"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, "only"); err == nil {
				claimed.Add(1)
			} else if !errors.Is(err, ErrAlreadyClaimed) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if claimed.Load() != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed.Load())
	}

	if err := store.Complete(ctx, "only", Completion{Outcome: action.StatusPending}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 已完成的记录不能再次领取。
	if _, err := store.Claim(ctx, "only"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed after completion, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	args := map[string]any{"amount": "1"}
	if err := store.Create(ctx, &Record{ID: "c", Tool: "transfer", Arguments: args}); err != nil {
		t.Fatalf("create: %v", err)
	}
	args["amount"] = "999"

	got, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Arguments["amount"] != "1" || got.Status != StatusPending {
		t.Fatalf("stored record was aliased: %+v", got)
	}
	got.Arguments["amount"] = "5"
	again, _ := store.Get(ctx, "c")
	if again.Arguments["amount"] != "1" {
		t.Fatal("Get returned shared arguments map")
	}

	if err := store.Create(ctx, &Record{ID: "c", Tool: "transfer"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := store.Complete(ctx, "nope", Completion{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildListOptionsDefaults(t *testing.T) {
	opts := BuildListOptions(WithLimit(500), WithStatuses("bogus", StatusFailed, StatusFailed), WithTool("  approve "))
	if opts.Limit != 100 {
		t.Fatalf("limit not capped: %d", opts.Limit)
	}
	if len(opts.Statuses) != 1 || opts.Statuses[0] != StatusFailed {
		t.Fatalf("statuses not normalized: %v", opts.Statuses)
	}
	if opts.Tool != "approve" {
		t.Fatalf("tool not trimmed: %q", opts.Tool)
	}
	if BuildListOptions().Limit != 20 {
		t.Fatal("default limit should be 20")
	}
}

func TestCompletionFinalStatus(t *testing.T) {
	cases := map[action.Status]Status{
		action.StatusSuccess:     StatusSucceeded,
		action.StatusPending:     StatusFailed,
		action.StatusReverted:    StatusFailed,
		action.StatusInvalid:     StatusFailed,
		action.StatusUnavailable: StatusFailed,
	}
	for outcome, want := range cases {
		if got := (Completion{Outcome: outcome}).FinalStatus(); got != want {
			t.Fatalf("%s: got %s want %s", outcome, got, want)
		}
	}
}
