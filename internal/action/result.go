package action

import (
	"fmt"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
)

// Status tags the outcome of one action execution.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusInvalid 参数校验失败，未触达钱包。
	StatusInvalid Status = "invalid"
	// StatusFailed 交易未提交或其他执行失败。
	StatusFailed Status = "failed"
	// StatusPending 交易已提交但未在超时前确认，结果未知。
	StatusPending     Status = "pending"
	StatusReverted    Status = "reverted"
	StatusUnavailable Status = "unavailable"
)

// Result is the tagged outcome of an action. It is rendered to text only at
// the tool boundary.
type Result struct {
	Action          string       `json:"action"`
	Status          Status       `json:"status"`
	Message         string       `json:"message"`
	TransactionHash string       `json:"transaction_hash,omitempty"`
	Code            xerrors.Code `json:"code,omitempty"`
	// Context 是失败文案中的动作短语，例如 "approving spender"。
	Context string `json:"-"`
}

// Success builds a successful result. Execute fills in Action.
func Success(message, txHash string) Result {
	return Result{Status: StatusSuccess, Message: message, TransactionHash: txHash}
}

// OK reports whether the action succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// String renders the agent visible text. Failures start with "Error".
func (r Result) String() string {
	switch r.Status {
	case StatusSuccess:
		return r.Message
	case StatusInvalid:
		return fmt.Sprintf("Error: invalid arguments for %s: %s", r.Action, r.Message)
	case StatusUnavailable:
		return "Error: " + r.Message
	}
	verb := r.Context
	if verb == "" {
		verb = "running " + r.Action
	}
	return fmt.Sprintf("Error %s: %s", verb, r.Message)
}

// Unavailable renders a lookup miss for name.
func Unavailable(name string) Result {
	return Result{
		Action:  name,
		Status:  StatusUnavailable,
		Message: fmt.Sprintf("action %q is not available", name),
		Code:    CodeActionNotFound,
	}
}

// failure maps an error returned by an action onto a tagged result.
func failure(name, verb string, err error) Result {
	r := Result{Action: name, Context: verb, Code: xerrors.CodeOf(err)}
	hash := xerrors.MetadataOf(err)["tx_hash"]
	r.TransactionHash = hash

	switch r.Code {
	case CodeValidationFailed:
		r.Status = StatusInvalid
		r.Message = detail(err)
		if e, ok := xerrors.From(err); ok && e.Cause() != nil {
			r.Message = detail(e.Cause())
		}
	case wallet.CodeSubmissionFailed:
		r.Status = StatusFailed
		r.Message = "transaction was not submitted: " + detail(err)
	case wallet.CodeSubmissionUnknown:
		r.Status = StatusPending
		r.Message = fmt.Sprintf("transaction %s may have been broadcast, but the node did not acknowledge it; check its status before retrying", hash)
	case wallet.CodeConfirmationTimeout:
		r.Status = StatusPending
		r.Message = fmt.Sprintf("transaction %s is still pending after the confirmation timeout; check its status before retrying", hash)
	case wallet.CodeTransactionReverted:
		r.Status = StatusReverted
		r.Message = fmt.Sprintf("transaction %s reverted on-chain; no state was changed", hash)
	case CodeActionNotFound:
		r.Status = StatusUnavailable
		r.Message = detail(err)
	default:
		r.Status = StatusFailed
		r.Message = detail(err)
	}
	return r
}

// detail 去掉错误码前缀，只保留对 agent 有用的文字。
func detail(err error) string {
	e, ok := xerrors.From(err)
	if !ok {
		return err.Error()
	}
	msg := e.Message()
	if cause := e.Cause(); cause != nil {
		msg += ": " + detail(cause)
	}
	return msg
}
