package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/pkg/logger"
)

// Mode 表示认证模式。
type Mode string

const (
	// ModeDisabled 不做认证，适用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeToken 使用静态 bearer token。
	ModeToken Mode = "token"
)

const (
	CodeMissingToken xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken xerrors.Code = "AUTH_INVALID_TOKEN"
)

var (
	// ErrMissingToken 请求未携带 Authorization 头。
	ErrMissingToken = xerrors.New(CodeMissingToken, "missing bearer token")
	// ErrInvalidToken token 不在允许列表中。
	ErrInvalidToken = xerrors.New(CodeInvalidToken, "invalid bearer token")
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{
		Message:  "missing bearer token",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{
		Message:  "invalid bearer token",
		Severity: xerrors.SeverityWarning,
	})
}

// Subject 是通过认证的调用方。
type Subject struct {
	// Name 为 token 的序号标识，不包含 token 本身。
	Name string
}

// Service 校验 API 访问令牌。
type Service struct {
	mode   Mode
	hashes [][sha256.Size]byte
	audit  *slog.Logger
}

// NewTokenService 根据 token 列表构造认证服务；列表为空时关闭认证。
func NewTokenService(tokens []string) *Service {
	s := &Service{mode: ModeDisabled, audit: logger.Audit()}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		s.hashes = append(s.hashes, sha256.Sum256([]byte(token)))
	}
	if len(s.hashes) > 0 {
		s.mode = ModeToken
	}
	return s
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 解析 Authorization 头并校验 token。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	if s.Mode() == ModeDisabled {
		return &Subject{Name: "anonymous"}, nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	matched := -1
	// 遍历全部 token，耗时与命中位置无关。
	for i, candidate := range s.hashes {
		if subtle.ConstantTimeCompare(sum[:], candidate[:]) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: fmt.Sprintf("token-%d", matched+1)}, nil
}
