package toolkit

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"OpenMCP-WalletKit/internal/action"
	"OpenMCP-WalletKit/internal/action/erc20"
	"OpenMCP-WalletKit/internal/action/walletops"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/internal/wallet/wallettest"
)

const (
	token   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	spender = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

func newRegistry(t *testing.T) *action.Registry {
	t.Helper()
	reg, err := action.NewRegistry(erc20.Source(), walletops.Source())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestToolsMirrorRegistry(t *testing.T) {
	reg := newRegistry(t)
	kit, err := New(reg, wallettest.New())
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	tools := kit.Tools()
	defs := reg.List()
	if len(tools) != len(defs) {
		t.Fatalf("expected %d tools, got %d", len(defs), len(tools))
	}
	for i, def := range defs {
		if tools[i].Name() != def.Name || tools[i].Description() != def.Description {
			t.Fatalf("tool %d does not mirror %s", i, def.Name)
		}
		want, err := def.Schema.JSONSchema()
		if err != nil {
			t.Fatalf("schema of %s: %v", def.Name, err)
		}
		if got := tools[i].Schema(); !reflect.DeepEqual(got, want) {
			t.Fatalf("schema of %s differs:\n got %#v\nwant %#v", def.Name, got, want)
		}
	}
	if len(kit.AgentTools()) != len(defs) {
		t.Fatal("agent tools should match tools")
	}
	if names := strings.Join(kit.Names(), ","); names != "approve,transfer,get_wallet_details,native_transfer" {
		t.Fatalf("unexpected order %s", names)
	}
}

func TestInvokeApprove(t *testing.T) {
	provider := wallettest.New()
	kit, err := New(newRegistry(t), provider)
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	approve, ok := kit.Tool("approve")
	if !ok {
		t.Fatal("approve tool missing")
	}
	text := approve.Invoke(context.Background(), map[string]any{
		"tokenAddress":   token,
		"spenderAddress": spender,
		"amount":         "1000",
	})
	if !strings.Contains(text, spender) || !strings.Contains(text, "1000") {
		t.Fatalf("unexpected text %q", text)
	}
	if provider.SendCount() != 1 {
		t.Fatalf("expected one submission, got %d", provider.SendCount())
	}
}

func TestExecuteReturnsFailuresAsData(t *testing.T) {
	provider := wallettest.New()
	provider.SendErr = errors.New("insufficient funds")
	kit, err := New(newRegistry(t), provider)
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	approve, _ := kit.Tool("approve")
	res, err := approve.Execute(context.Background(), map[string]interface{}{
		"tokenAddress":   token,
		"spenderAddress": spender,
		"amount":         "1000",
	})
	if err != nil {
		t.Fatalf("execute must not return an error, got %v", err)
	}
	if res.Success || !strings.HasPrefix(res.Output, "Error approving spender") {
		t.Fatalf("unexpected tool result %+v", res)
	}
	if r, ok := res.Data.(action.Result); !ok || r.Status != action.StatusFailed {
		t.Fatalf("expected tagged result in data, got %#v", res.Data)
	}
}

func TestUnknownToolIsUnavailable(t *testing.T) {
	provider := wallettest.New()
	kit, err := New(newRegistry(t), provider)
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	result := kit.Call(context.Background(), "nonexistent", nil)
	if result.Status != action.StatusUnavailable || !strings.HasPrefix(result.String(), "Error") {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.Calls() != 0 {
		t.Fatal("lookup miss must not touch the provider")
	}
}

func TestDuplicateActionsYieldNoTools(t *testing.T) {
	custom := action.NewSource("custom", action.Definition{
		Name:   "approve",
		Schema: action.NewSchema(),
		Invoke: func(context.Context, wallet.Provider, action.Args) (action.Result, error) {
			return action.Success("ok", ""), nil
		},
	})
	reg, err := action.NewRegistry(erc20.Source(), custom)
	if xerrors.CodeOf(err) != action.CodeDuplicateAction {
		t.Fatalf("expected DUPLICATE_ACTION, got %v", err)
	}
	kit, err := New(reg, wallettest.New())
	if kit != nil || xerrors.CodeOf(err) != CodeAdapterConstruction {
		t.Fatalf("expected no toolkit, got %v / %v", kit, err)
	}
}

func TestNewRejectsMissingInputs(t *testing.T) {
	if _, err := New(newRegistry(t), nil); xerrors.CodeOf(err) != CodeAdapterConstruction {
		t.Fatalf("expected ADAPTER_CONSTRUCTION for nil provider, got %v", err)
	}
	empty, _ := action.NewRegistry()
	if _, err := New(empty, wallettest.New()); xerrors.CodeOf(err) != CodeAdapterConstruction {
		t.Fatalf("expected ADAPTER_CONSTRUCTION for empty registry, got %v", err)
	}
}

func TestObserverSeesEveryCall(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	statuses := map[action.Status]int{}
	observer := ObserverFunc(func(_ context.Context, inv Invocation) {
		calls.Add(1)
		mu.Lock()
		statuses[inv.Result.Status]++
		mu.Unlock()
		if inv.Network != "testnet" {
			t.Errorf("unexpected network %q", inv.Network)
		}
	})
	kit, err := New(newRegistry(t), wallettest.New(), WithObserver(observer))
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kit.Invoke(context.Background(), "get_wallet_details", nil)
		}()
	}
	wg.Wait()
	kit.Invoke(context.Background(), "native_transfer", map[string]any{"amount": "1"})
	kit.Invoke(context.Background(), "missing", nil)

	if calls.Load() != 10 {
		t.Fatalf("expected 10 observations, got %d", calls.Load())
	}
	if statuses[action.StatusSuccess] != 8 || statuses[action.StatusInvalid] != 1 || statuses[action.StatusUnavailable] != 1 {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestSchemaIsCopied(t *testing.T) {
	kit, err := New(newRegistry(t), wallettest.New())
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}
	approve, _ := kit.Tool("approve")
	first := approve.Schema()
	first.Required = nil
	delete(first.Properties, "amount")
	second := approve.Schema()
	if len(second.Required) != 3 || second.Properties["amount"] == nil {
		t.Fatal("schema mutation leaked into the tool")
	}
}

func TestObserverPanicDoesNotEscapeTool(t *testing.T) {
	provider := wallettest.New()
	var after atomic.Int32
	kit, err := New(newRegistry(t), provider,
		WithObserver(ObserverFunc(func(context.Context, Invocation) { panic("observer boom") })),
		WithObserver(ObserverFunc(func(context.Context, Invocation) { after.Add(1) })),
	)
	if err != nil {
		t.Fatalf("new toolkit: %v", err)
	}

	text := kit.Invoke(context.Background(), "approve", map[string]any{
		"tokenAddress":   token,
		"spenderAddress": spender,
		"amount":         "1000",
	})
	if !strings.Contains(text, "Successfully approved") {
		t.Fatalf("unexpected text %q", text)
	}
	if provider.SendCount() != 1 {
		t.Fatalf("expected one submission, got %d", provider.SendCount())
	}
	if after.Load() != 1 {
		t.Fatal("later observers must still run")
	}

	approve, _ := kit.Tool("approve")
	res, err := approve.Execute(context.Background(), map[string]interface{}{"amount": "1"})
	if err != nil || res == nil || res.Success {
		t.Fatalf("expected failure as data, got %+v %v", res, err)
	}
}
