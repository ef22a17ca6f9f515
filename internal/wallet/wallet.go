package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	xerrors "OpenMCP-WalletKit/internal/errors"
)

// Provider is the capability object every action talks to. It signs and
// submits transactions for one account on one network and reports their
// outcome. Implementations own nonce management and may serialize
// submissions internally; callers treat a Provider as shared and
// concurrency-safe.
type Provider interface {
	// Network identifies the network the provider is connected to.
	Network() Network
	// Address returns the provider's account address as a hex string.
	Address() string
	// Balance returns the native balance of Address in atomic units.
	Balance(ctx context.Context) (*big.Int, error)
	// SendTransaction signs and submits req exactly once. It is not
	// idempotent; callers must never retry it on their own.
	SendTransaction(ctx context.Context, req TransactionRequest) (TransactionHandle, error)
	// WaitForTransactionReceipt blocks until the transaction reaches
	// finality, the provider's confirmation timeout expires or ctx is done.
	WaitForTransactionReceipt(ctx context.Context, handle TransactionHandle) (*Receipt, error)
}

// Network describes a chain a provider is bound to.
type Network struct {
	ID       string   `json:"id"`
	Protocol string   `json:"protocol"`
	ChainID  *big.Int `json:"chain_id,omitempty"`
}

// String renders the network for human readable output.
func (n Network) String() string {
	if n.ChainID == nil {
		return n.ID
	}
	return fmt.Sprintf("%s (chain %s)", n.ID, n.ChainID.String())
}

// TransactionRequest is the payload an action hands to SendTransaction.
// An empty To creates a contract from Data; Gas 为 0 时由 provider 估算。
type TransactionRequest struct {
	To    string
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// TransactionHandle identifies a submitted transaction.
type TransactionHandle struct {
	Hash string `json:"hash"`
}

// ReceiptStatus is the on-chain execution status.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the final outcome of a mined transaction.
type Receipt struct {
	TransactionHash string        `json:"transaction_hash"`
	BlockNumber     uint64        `json:"block_number"`
	GasUsed         uint64        `json:"gas_used"`
	Status          ReceiptStatus `json:"status"`
	ContractAddress string        `json:"contract_address,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptSuccess
}

const (
	// CodeSubmissionFailed 交易未能提交（余额不足、nonce 冲突、节点拒绝）。
	CodeSubmissionFailed xerrors.Code = "SUBMISSION_FAILED"
	// CodeSubmissionUnknown 已签名交易在广播过程中 ctx 结束，节点可能已接收。
	CodeSubmissionUnknown xerrors.Code = "SUBMISSION_UNKNOWN"
	// CodeConfirmationTimeout 交易已提交但在超时前未确认。
	CodeConfirmationTimeout xerrors.Code = "CONFIRMATION_TIMEOUT"
	// CodeTransactionReverted 交易已上链但执行回滚。
	CodeTransactionReverted xerrors.Code = "TRANSACTION_REVERTED"
	// CodeNetworkUnavailable 网络未配置或无法连接。
	CodeNetworkUnavailable xerrors.Code = "NETWORK_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:  "transaction submission failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeSubmissionUnknown, xerrors.Attributes{
		Message:  "transaction submission status unknown",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	// 超时的交易仍可能上链，不可自动重试。
	xerrors.Register(CodeConfirmationTimeout, xerrors.Attributes{
		Message:  "transaction confirmation timed out",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeTransactionReverted, xerrors.Attributes{
		Message:  "transaction reverted on-chain",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeNetworkUnavailable, xerrors.Attributes{
		Message:   "network unavailable",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// SubmissionError wraps a failed submission.
func SubmissionError(cause error, message string) error {
	return xerrors.Wrap(CodeSubmissionFailed, cause, message)
}

// SubmissionUnknown reports a signed transaction whose broadcast was cut
// short. The node may already hold it, so hash is attached as tx_hash.
func SubmissionUnknown(hash string, cause error) error {
	return xerrors.Wrap(CodeSubmissionUnknown, cause,
		fmt.Sprintf("broadcast of transaction %s was interrupted", hash),
		xerrors.WithMetadata("tx_hash", hash))
}

// ConfirmationTimeout reports a transaction that is still pending.
func ConfirmationTimeout(hash string, cause error) error {
	return xerrors.Wrap(CodeConfirmationTimeout, cause,
		fmt.Sprintf("transaction %s was not confirmed in time", hash),
		xerrors.WithMetadata("tx_hash", hash))
}

// RevertedError reports a transaction that was mined but reverted.
func RevertedError(receipt *Receipt) error {
	hash := ""
	if receipt != nil {
		hash = receipt.TransactionHash
	}
	return xerrors.New(CodeTransactionReverted,
		fmt.Sprintf("transaction %s reverted on-chain", hash),
		xerrors.WithMetadata("tx_hash", hash))
}

// IsConfirmationError reports whether err is a timeout or revert raised
// while waiting for a receipt.
func IsConfirmationError(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeConfirmationTimeout, CodeTransactionReverted:
		return true
	}
	return false
}

// NormalizeProtocol lower-cases a protocol name, defaulting to evm.
func NormalizeProtocol(protocol string) string {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if protocol == "" {
		return ProtocolEVM
	}
	return protocol
}

// ProtocolEVM identifies EVM compatible networks.
const ProtocolEVM = "evm"
