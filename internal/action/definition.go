package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/pkg/logger"
)

// InvokeFunc performs an action with validated arguments. It returns the
// success result or an error whose code selects the failure status.
type InvokeFunc func(ctx context.Context, provider wallet.Provider, args Args) (Result, error)

// Definition is one named, schema-validated operation against a wallet
// provider.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	// FailureContext 渲染失败文案，如 "approving spender"；为空时使用 "running <name>"。
	FailureContext string
	Invoke         InvokeFunc
}

// Check reports whether the definition can be registered.
func (d Definition) Check() error {
	if strings.TrimSpace(d.Name) == "" {
		return xerrors.New(CodeInvalidDefinition, "action name is empty")
	}
	if strings.ContainsAny(d.Name, " \t\r\n") {
		return xerrors.New(CodeInvalidDefinition, fmt.Sprintf("action name %q contains whitespace", d.Name))
	}
	if d.Invoke == nil {
		return xerrors.New(CodeInvalidDefinition, fmt.Sprintf("action %q has no invoke function", d.Name))
	}
	if err := d.Schema.Check(); err != nil {
		return xerrors.Wrap(CodeInvalidDefinition, err, fmt.Sprintf("action %q has an invalid schema", d.Name))
	}
	return nil
}

// Execute validates raw, then runs the action against provider. It never
// panics and never returns an error: every failure becomes a tagged Result.
// Invalid arguments never reach the provider.
func (d Definition) Execute(ctx context.Context, provider wallet.Provider, raw map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Component("action").Error("动作执行 panic",
				slog.String("action", d.Name),
				slog.Any("panic", rec),
			)
			result = Result{
				Action:  d.Name,
				Status:  StatusFailed,
				Message: fmt.Sprintf("internal error: %v", rec),
				Code:    CodeActionFailed,
				Context: d.FailureContext,
			}
		}
	}()

	args, err := d.Schema.Validate(raw)
	if err != nil {
		return failure(d.Name, d.FailureContext, err)
	}
	if provider == nil {
		return failure(d.Name, d.FailureContext, xerrors.New(CodeActionFailed, "no wallet provider is bound"))
	}
	if d.Invoke == nil {
		return failure(d.Name, d.FailureContext, xerrors.New(CodeInvalidDefinition, "action has no implementation"))
	}

	out, err := d.Invoke(ctx, provider, args)
	if err != nil {
		return failure(d.Name, d.FailureContext, err)
	}
	out.Action = d.Name
	out.Context = d.FailureContext
	if out.Status == "" {
		out.Status = StatusSuccess
	}
	return out
}

// SubmitAndWait submits req exactly once and waits for its receipt. Errors
// are always SUBMISSION_FAILED, SUBMISSION_UNKNOWN, CONFIRMATION_TIMEOUT or
// TRANSACTION_REVERTED; all but the first carry the hash as tx_hash metadata.
func SubmitAndWait(ctx context.Context, provider wallet.Provider, req wallet.TransactionRequest) (*wallet.Receipt, error) {
	handle, err := provider.SendTransaction(ctx, req)
	if err != nil {
		switch xerrors.CodeOf(err) {
		case wallet.CodeSubmissionFailed, wallet.CodeSubmissionUnknown:
		default:
			err = wallet.SubmissionError(err, "provider rejected the transaction")
		}
		return nil, err
	}

	receipt, err := provider.WaitForTransactionReceipt(ctx, handle)
	if err != nil {
		if !wallet.IsConfirmationError(err) {
			// 已提交但结果未知，按待确认处理。
			return receipt, wallet.ConfirmationTimeout(handle.Hash, err)
		}
		if xerrors.MetadataOf(err)["tx_hash"] == "" {
			return receipt, xerrors.Wrap(xerrors.CodeOf(err), err, "", xerrors.WithMetadata("tx_hash", handle.Hash))
		}
		return receipt, err
	}
	if receipt == nil {
		return nil, wallet.ConfirmationTimeout(handle.Hash, xerrors.New(xerrors.CodeUnknown, "provider returned no receipt"))
	}
	if !receipt.Succeeded() {
		return receipt, wallet.RevertedError(receipt)
	}
	return receipt, nil
}
