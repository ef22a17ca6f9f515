package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cexll/agentsdk-go/pkg/tool"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/pkg/logger"
)

// CodeAdapterConstruction 工具集无法构建（注册表为空、未绑定钱包、schema 无法转换）。
const CodeAdapterConstruction xerrors.Code = "ADAPTER_CONSTRUCTION"

func init() {
	xerrors.Register(CodeAdapterConstruction, xerrors.Attributes{
		Message:  "tool adapter construction failed",
		Severity: xerrors.SeverityCritical,
	})
}

// Invocation describes one completed tool call.
type Invocation struct {
	// ID 为异步调用的记录 ID，同步调用时为空。
	ID        string
	Tool      string
	Source    string
	Network   string
	Result    action.Result
	StartedAt time.Time
	Duration  time.Duration
}

type invocationIDKey struct{}

// WithInvocationID tags ctx so observers can correlate a call with its
// journal record.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationIDFrom returns the id set by WithInvocationID.
func InvocationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(invocationIDKey{}).(string)
	return id
}

// Observer is notified after every tool call. It must not block for long.
type Observer interface {
	ObserveInvocation(ctx context.Context, inv Invocation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, inv Invocation)

// ObserveInvocation implements Observer.
func (f ObserverFunc) ObserveInvocation(ctx context.Context, inv Invocation) { f(ctx, inv) }

// Option 定义可选配置。
type Option func(*Toolkit)

// WithObserver registers an observer. Observers run in registration order.
func WithObserver(observer Observer) Option {
	return func(k *Toolkit) {
		if observer != nil {
			k.observers = append(k.observers, observer)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Toolkit) {
		if l != nil {
			k.logger = l
		}
	}
}

// Toolkit binds every action of a registry to one wallet provider. It is
// immutable after New and safe for concurrent use.
type Toolkit struct {
	registry  *action.Registry
	provider  wallet.Provider
	tools     []*Tool
	index     map[string]*Tool
	observers []Observer
	logger    *slog.Logger
}

// New builds one Tool per registered action, in registry order. The
// provider is bound once and shared by every tool.
func New(registry *action.Registry, provider wallet.Provider, opts ...Option) (*Toolkit, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, xerrors.New(CodeAdapterConstruction, "action registry is empty")
	}
	if provider == nil {
		return nil, xerrors.New(CodeAdapterConstruction, "no wallet provider supplied")
	}

	k := &Toolkit{
		registry: registry,
		provider: provider,
		index:    make(map[string]*Tool, registry.Len()),
		logger:   logger.Component("toolkit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}

	for _, def := range registry.List() {
		schema, err := def.Schema.JSONSchema()
		if err != nil {
			return nil, xerrors.Wrap(CodeAdapterConstruction, err,
				fmt.Sprintf("schema of %q cannot be translated", def.Name),
				xerrors.WithMetadata("action", def.Name))
		}
		t := &Tool{def: def, source: registry.SourceOf(def.Name), schema: schema, kit: k}
		k.tools = append(k.tools, t)
		k.index[def.Name] = t
	}

	network := provider.Network()
	k.logger.Info("工具集已构建",
		slog.Int("tools", len(k.tools)),
		slog.String("network", network.ID),
		slog.String("address", provider.Address()),
	)
	return k, nil
}

// Tools returns the tools in registry order.
func (k *Toolkit) Tools() []*Tool {
	return append([]*Tool(nil), k.tools...)
}

// AgentTools returns the tools as agentsdk-go tools.
func (k *Toolkit) AgentTools() []tool.Tool {
	out := make([]tool.Tool, len(k.tools))
	for i, t := range k.tools {
		out[i] = t
	}
	return out
}

// Tool finds a tool by exact name.
func (k *Toolkit) Tool(name string) (*Tool, bool) {
	t, ok := k.index[name]
	return t, ok
}

// Names returns tool names in order.
func (k *Toolkit) Names() []string {
	names := make([]string, len(k.tools))
	for i, t := range k.tools {
		names[i] = t.Name()
	}
	return names
}

// Has reports whether a tool with exactly this name exists.
func (k *Toolkit) Has(name string) bool {
	_, ok := k.index[name]
	return ok
}

// Provider returns the bound wallet provider.
func (k *Toolkit) Provider() wallet.Provider {
	return k.provider
}

// Network returns the identifier of the provider's network.
func (k *Toolkit) Network() string {
	return k.provider.Network().ID
}

// Call runs the named tool. An unknown name yields an unavailable result.
func (k *Toolkit) Call(ctx context.Context, name string, args map[string]any) action.Result {
	t, ok := k.index[name]
	if !ok {
		result := action.Unavailable(name)
		k.observe(ctx, Invocation{ID: InvocationIDFrom(ctx), Tool: name, Network: k.provider.Network().ID, Result: result, StartedAt: time.Now()})
		return result
	}
	return t.Call(ctx, args)
}

// Invoke is Call rendered as text.
func (k *Toolkit) Invoke(ctx context.Context, name string, args map[string]any) string {
	return k.Call(ctx, name, args).String()
}

func (k *Toolkit) observe(ctx context.Context, inv Invocation) {
	attrs := []any{
		slog.String("tool", inv.Tool),
		slog.String("network", inv.Network),
		slog.String("status", string(inv.Result.Status)),
		slog.Duration("duration", inv.Duration),
	}
	if inv.ID != "" {
		attrs = append(attrs, slog.String("invocation_id", inv.ID))
	}
	if inv.Result.TransactionHash != "" {
		attrs = append(attrs, slog.String("tx_hash", inv.Result.TransactionHash))
	}
	if inv.Result.Code != "" {
		attrs = append(attrs, slog.String("code", string(inv.Result.Code)))
	}
	logger.Audit().Info("tool_invoked", attrs...)

	for _, o := range k.observers {
		k.notify(ctx, o, inv)
	}
}

// notify 隔离单个 observer 的 panic，工具结果照常返回。
func (k *Toolkit) notify(ctx context.Context, o Observer, inv Invocation) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("observer panic",
				slog.String("tool", inv.Tool),
				slog.Any("panic", r),
			)
		}
	}()
	o.ObserveInvocation(ctx, inv)
}

// Tool is one action bound to the toolkit's provider.
type Tool struct {
	def    action.Definition
	source string
	schema *tool.JSONSchema
	kit    *Toolkit
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return t.def.Name }

// Description implements tool.Tool.
func (t *Tool) Description() string { return t.def.Description }

// Source returns the name of the source that contributed the action.
func (t *Tool) Source() string { return t.source }

// Schema implements tool.Tool. Callers receive a copy.
func (t *Tool) Schema() *tool.JSONSchema {
	return cloneSchema(t.schema)
}

// ArgumentSchema returns the action's own schema.
func (t *Tool) ArgumentSchema() action.Schema {
	return t.def.Schema
}

// Call runs the action and notifies observers.
func (t *Tool) Call(ctx context.Context, args map[string]any) action.Result {
	started := time.Now()
	result := t.def.Execute(ctx, t.kit.provider, args)
	t.kit.observe(ctx, Invocation{
		ID:        InvocationIDFrom(ctx),
		Tool:      t.def.Name,
		Source:    t.source,
		Network:   t.kit.provider.Network().ID,
		Result:    result,
		StartedAt: started,
		Duration:  time.Since(started),
	})
	return result
}

// Invoke runs the action and returns the agent visible text.
func (t *Tool) Invoke(ctx context.Context, args map[string]any) string {
	return t.Call(ctx, args).String()
}

// Execute implements tool.Tool. Failures are data: the error is always nil
// and the text is in Output.
func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (*tool.ToolResult, error) {
	result := t.Call(ctx, params)
	return &tool.ToolResult{
		Success: result.OK(),
		Output:  result.String(),
		Data:    result,
	}, nil
}

func cloneSchema(s *tool.JSONSchema) *tool.JSONSchema {
	if s == nil {
		return nil
	}
	out := *s
	if s.Required != nil {
		out.Required = append(make([]string, 0, len(s.Required)), s.Required...)
	}
	if s.Properties == nil {
		return &out
	}
	out.Properties = make(map[string]interface{}, len(s.Properties))
	for name, prop := range s.Properties {
		if m, ok := prop.(map[string]interface{}); ok {
			copied := make(map[string]interface{}, len(m))
			for k, v := range m {
				copied[k] = v
			}
			out.Properties[name] = copied
			continue
		}
		out.Properties[name] = prop
	}
	return &out
}

var _ tool.Tool = (*Tool)(nil)
