package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/cexll/agentsdk-go/pkg/tool"

	"OpenMCP-WalletKit/internal/config"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/pkg/logger"
)

// CodeAgentFailure 表示智能体运行时返回错误。
const CodeAgentFailure xerrors.Code = "AGENT_FAILURE"

func init() {
	xerrors.Register(CodeAgentFailure, xerrors.Attributes{
		Message:  "agent run failed",
		Severity: xerrors.SeverityWarning,
	})
}

const defaultSystemPrompt = `You are an on-chain wallet assistant. You act only through the tools you are given.
Amounts are integers in the token's smallest unit; never guess decimals.
Before moving funds, restate the recipient and amount. A tool reply starting with "Error" means the action did not happen.`

// Runtime 抽象 agentsdk-go 运行时，便于测试替换。
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close() error
}

// RuntimeFactory 根据配置、系统提示词与工具列表构建运行时。
type RuntimeFactory func(cfg config.AgentConfig, systemPrompt string, tools []tool.Tool) (Runtime, error)

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRuntimeFactory 替换默认的运行时构造函数。
func WithRuntimeFactory(factory RuntimeFactory) Option {
	return func(a *Agent) {
		if factory != nil {
			a.factory = factory
		}
	}
}

// WithTimeout 设置单轮对话的超时时间，0 表示不限制。
func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.timeout = 0
			return
		}
		a.timeout = timeout
	}
}

// Agent 把钱包工具集交给大模型驱动。
type Agent struct {
	runtime Runtime
	factory RuntimeFactory
	timeout time.Duration
	logger  *slog.Logger
}

// New 使用工具集构建 Agent。运行时不注册任何内置工具。
func New(cfg config.AgentConfig, kit *toolkit.Toolkit, opts ...Option) (*Agent, error) {
	if kit == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包工具集")
	}
	ag := &Agent{
		factory: DefaultRuntimeFactory,
		timeout: cfg.Timeout,
		logger:  logger.Component("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}

	prompt := SystemPrompt(cfg.SystemPrompt, kit)
	rt, err := ag.factory(cfg, prompt, kit.AgentTools())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建智能体运行时失败")
	}
	ag.runtime = rt
	ag.logger.Info("智能体已就绪",
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Int("tools", len(kit.Tools())),
	)
	return ag, nil
}

// Ask 运行一轮对话并返回最终文本。
func (a *Agent) Ask(ctx context.Context, prompt string) (string, error) {
	if a == nil || a.runtime == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "智能体未初始化")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "提示词不能为空")
	}

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := a.runtime.Run(runCtx, api.Request{Prompt: prompt})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "智能体运行超时")
		}
		return "", xerrors.Wrap(CodeAgentFailure, err, "智能体运行失败")
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}

	a.logger.Debug("对话完成",
		slog.Int("tool_calls", len(resp.Result.ToolCalls)),
		slog.String("stop_reason", resp.Result.StopReason),
		slog.Duration("duration", time.Since(started)),
	)
	return resp.Result.Output, nil
}

// Close 释放运行时资源。
func (a *Agent) Close() error {
	if a == nil || a.runtime == nil {
		return nil
	}
	return a.runtime.Close()
}

// SystemPrompt 在基础提示词后附上钱包所在网络、地址与可用工具。
func SystemPrompt(base string, kit *toolkit.Toolkit) string {
	if strings.TrimSpace(base) == "" {
		base = defaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Wallet address: %s\n", kit.Provider().Address())
	fmt.Fprintf(&b, "Network: %s\n", kit.Network())
	fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(kit.Names(), ", "))
	return b.String()
}

// DefaultRuntimeFactory 构建真实的 agentsdk-go 运行时。
func DefaultRuntimeFactory(cfg config.AgentConfig, systemPrompt string, tools []tool.Tool) (Runtime, error) {
	var provider api.ModelFactory
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.ResolveAPIKey(),
			BaseURL:   cfg.BaseURL,
			ModelName: cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}
	default:
		provider = &model.AnthropicProvider{
			APIKey:    cfg.ResolveAPIKey(),
			BaseURL:   cfg.BaseURL,
			ModelName: cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		EntryPoint:          api.EntryPointCLI,
		ProjectRoot:         cfg.Workspace,
		ModelFactory:        provider,
		SystemPrompt:        systemPrompt,
		MaxIterations:       cfg.MaxIterations,
		EnabledBuiltinTools: []string{},
		CustomTools:         tools,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return rt, nil
}
