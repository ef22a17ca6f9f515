package invocation

import (
	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
)

// Status 表示调用记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request 描述一次异步工具调用。ID 为空时自动生成，非空时作为幂等键。
type Request struct {
	ID        string         `json:"id,omitempty"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Record 是调用日志中的一条记录。
type Record struct {
	ID              string         `json:"id"`
	Tool            string         `json:"tool"`
	Network         string         `json:"network,omitempty"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	Status          Status         `json:"status"`
	Outcome         action.Status  `json:"outcome,omitempty"`
	Output          string         `json:"output,omitempty"`
	TransactionHash string         `json:"transaction_hash,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// Done reports whether the record reached a final status.
func (r *Record) Done() bool {
	return r != nil && (r.Status == StatusSucceeded || r.Status == StatusFailed)
}

// Completion 是一次执行写回记录的内容。
type Completion struct {
	Outcome         action.Status
	Output          string
	TransactionHash string
	ErrorCode       string
}

// CompletionFrom converts a tool result.
func CompletionFrom(result action.Result) Completion {
	return Completion{
		Outcome:         result.Status,
		Output:          result.String(),
		TransactionHash: result.TransactionHash,
		ErrorCode:       string(result.Code),
	}
}

// FinalStatus maps an outcome onto the record lifecycle.
func (c Completion) FinalStatus() Status {
	if c.Outcome == action.StatusSuccess {
		return StatusSucceeded
	}
	return StatusFailed
}

const (
	CodeInvocationNotFound xerrors.Code = "INVOCATION_NOT_FOUND"
	CodeInvocationConflict xerrors.Code = "INVOCATION_CONFLICT"
	// CodeInvocationClaimed 记录已被领取或已完成，不会再次执行。
	CodeInvocationClaimed    xerrors.Code = "INVOCATION_ALREADY_CLAIMED"
	CodeInvocationValidation xerrors.Code = "INVOCATION_VALIDATION_FAILED"
	CodeInvocationPublish    xerrors.Code = "INVOCATION_PUBLISH_FAILED"
)

var (
	// ErrNotFound 表示指定的调用记录不存在。
	ErrNotFound = xerrors.New(CodeInvocationNotFound, "invocation not found")
	// ErrConflict 表示相同 ID 的记录已存在。
	ErrConflict = xerrors.New(CodeInvocationConflict, "invocation already exists")
	// ErrAlreadyClaimed 表示记录不处于待执行状态。
	ErrAlreadyClaimed = xerrors.New(CodeInvocationClaimed, "invocation already claimed")
)

func init() {
	xerrors.Register(CodeInvocationNotFound, xerrors.Attributes{
		Message:  "invocation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationConflict, xerrors.Attributes{
		Message:  "invocation already exists",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvocationClaimed, xerrors.Attributes{
		Message:  "invocation already claimed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationValidation, xerrors.Attributes{
		Message:  "invocation request invalid",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationPublish, xerrors.Attributes{
		Message:  "failed to publish invocation",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	cloned := make(map[string]any, len(args))
	for key, value := range args {
		cloned[key] = value
	}
	return cloned
}

func cloneRecord(r *Record) *Record {
	clone := *r
	clone.Arguments = cloneArguments(r.Arguments)
	return &clone
}
