package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/internal/wallet/wallettest"
)

// sendOnce submits a zero-value transfer to the spender and reports the hash.
func sendOnce(ctx context.Context, provider wallet.Provider, args Args) (Result, error) {
	receipt, err := SubmitAndWait(ctx, provider, wallet.TransactionRequest{To: args.Address("tokenAddress")})
	if err != nil {
		return Result{}, err
	}
	return Success(fmt.Sprintf("approved %s for %s. Transaction hash: %s",
		args.Address("spenderAddress"), args.BigInt("amount"), receipt.TransactionHash), receipt.TransactionHash), nil
}

func testDefinition() Definition {
	return Definition{
		Name:           "approve",
		Description:    "approve a spender",
		Schema:         approveSchema(),
		FailureContext: "approving spender",
		Invoke:         sendOnce,
	}
}

func validArgs() map[string]any {
	return map[string]any{"tokenAddress": tokenAddr, "spenderAddress": spenderAddr, "amount": "1000"}
}

func TestExecuteSuccessSubmitsOnce(t *testing.T) {
	provider := wallettest.New()
	result := testDefinition().Execute(context.Background(), provider, validArgs())

	if !result.OK() || result.Action != "approve" {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.SendCount() != 1 || provider.WaitCount() != 1 {
		t.Fatalf("expected one send and one wait, got %d/%d", provider.SendCount(), provider.WaitCount())
	}
	text := result.String()
	for _, want := range []string{spenderAddr, "1000", result.TransactionHash} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestExecuteInvalidArgsNeverTouchProvider(t *testing.T) {
	provider := wallettest.New()
	raw := validArgs()
	raw["spenderAddress"] = "0xnot-an-address"

	result := testDefinition().Execute(context.Background(), provider, raw)
	if result.Status != StatusInvalid || result.Code != CodeValidationFailed {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.Calls() != 0 {
		t.Fatalf("provider was called %d times", provider.Calls())
	}
	if !strings.HasPrefix(result.String(), "Error: invalid arguments for approve: ") {
		t.Fatalf("unexpected text %q", result.String())
	}
}

func TestExecuteSubmissionFailure(t *testing.T) {
	provider := wallettest.New()
	provider.SendErr = errors.New("insufficient funds for gas * price + value")

	result := testDefinition().Execute(context.Background(), provider, validArgs())
	if result.Status != StatusFailed || result.Code != wallet.CodeSubmissionFailed {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.SendCount() != 1 || provider.WaitCount() != 0 {
		t.Fatalf("submission must not be retried or awaited, got %d/%d", provider.SendCount(), provider.WaitCount())
	}
	text := result.String()
	if !strings.HasPrefix(text, "Error approving spender: transaction was not submitted") || !strings.Contains(text, "insufficient funds") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExecuteInterruptedBroadcastIsPending(t *testing.T) {
	provider := wallettest.New()
	provider.SendErr = wallet.SubmissionUnknown("0xfeed", context.DeadlineExceeded)

	result := testDefinition().Execute(context.Background(), provider, validArgs())
	if result.Status != StatusPending || result.Code != wallet.CodeSubmissionUnknown || result.TransactionHash != "0xfeed" {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.SendCount() != 1 || provider.WaitCount() != 0 {
		t.Fatalf("expected one submission and no wait, got %d/%d", provider.SendCount(), provider.WaitCount())
	}
	text := result.String()
	if strings.Contains(text, "not submitted") || !strings.Contains(text, "0xfeed") || !strings.Contains(text, "check its status") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExecuteConfirmationTimeoutIsPending(t *testing.T) {
	provider := wallettest.New()
	provider.WaitDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := testDefinition().Execute(ctx, provider, validArgs())

	if result.Status != StatusPending || result.Code != wallet.CodeConfirmationTimeout {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.TransactionHash == "" || !strings.Contains(result.String(), result.TransactionHash) {
		t.Fatalf("pending result should name the hash: %q", result.String())
	}
	if !strings.Contains(result.String(), "still pending") {
		t.Fatalf("unexpected text %q", result.String())
	}
	if provider.SendCount() != 1 {
		t.Fatalf("expected exactly one submission, got %d", provider.SendCount())
	}
}

func TestExecuteRevert(t *testing.T) {
	provider := wallettest.New()
	provider.Revert = true

	result := testDefinition().Execute(context.Background(), provider, validArgs())
	if result.Status != StatusReverted || result.TransactionHash == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(result.String(), "reverted on-chain") {
		t.Fatalf("unexpected text %q", result.String())
	}
}

func TestExecuteUnclassifiedWaitErrorIsPending(t *testing.T) {
	provider := wallettest.New()
	provider.WaitErr = errors.New("connection reset")

	result := testDefinition().Execute(context.Background(), provider, validArgs())
	if result.Status != StatusPending || result.TransactionHash == "" {
		t.Fatalf("unknown outcome after submission should be pending, got %+v", result)
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	provider := wallettest.New()
	provider.Panic = "boom"

	result := testDefinition().Execute(context.Background(), provider, validArgs())
	if result.Status != StatusFailed || !strings.Contains(result.String(), "boom") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestExecuteWithoutProvider(t *testing.T) {
	result := testDefinition().Execute(context.Background(), nil, validArgs())
	if result.OK() || !strings.HasPrefix(result.String(), "Error") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSubmitAndWaitOrdersSendBeforeWait(t *testing.T) {
	provider := &orderingProvider{Provider: wallettest.New()}
	if _, err := SubmitAndWait(context.Background(), provider, wallet.TransactionRequest{To: tokenAddr}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.Join(provider.calls, ",") != "send,wait" {
		t.Fatalf("unexpected call order %v", provider.calls)
	}
}

type orderingProvider struct {
	*wallettest.Provider
	calls []string
}

func (p *orderingProvider) SendTransaction(ctx context.Context, req wallet.TransactionRequest) (wallet.TransactionHandle, error) {
	p.calls = append(p.calls, "send")
	return p.Provider.SendTransaction(ctx, req)
}

func (p *orderingProvider) WaitForTransactionReceipt(ctx context.Context, handle wallet.TransactionHandle) (*wallet.Receipt, error) {
	p.calls = append(p.calls, "wait")
	return p.Provider.WaitForTransactionReceipt(ctx, handle)
}
