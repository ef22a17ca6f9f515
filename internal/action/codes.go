package action

import xerrors "OpenMCP-WalletKit/internal/errors"

const (
	// CodeValidationFailed 参数不符合动作的 schema，调用方错误。
	CodeValidationFailed xerrors.Code = "VALIDATION_FAILED"
	// CodeDuplicateAction 两个来源注册了同名动作。
	CodeDuplicateAction xerrors.Code = "DUPLICATE_ACTION"
	// CodeActionNotFound 按名称查找动作未命中。
	CodeActionNotFound xerrors.Code = "ACTION_NOT_FOUND"
	// CodeInvalidDefinition 动作定义本身不完整。
	CodeInvalidDefinition xerrors.Code = "INVALID_ACTION_DEFINITION"
	// CodeActionFailed 动作执行中出现的其他失败。
	CodeActionFailed xerrors.Code = "ACTION_FAILED"
)

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{
		Message:  "argument validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDuplicateAction, xerrors.Attributes{
		Message:  "duplicate action name",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeActionNotFound, xerrors.Attributes{
		Message:  "action not available",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidDefinition, xerrors.Attributes{
		Message:  "invalid action definition",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeActionFailed, xerrors.Attributes{
		Message:  "action failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}
