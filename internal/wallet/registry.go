package wallet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/pkg/logger"
)

// Factory builds a provider for a named network definition.
type Factory func(ctx context.Context, name string, def NetworkDefinition) (Provider, error)

// Registry keeps one provider per configured network.
type Registry struct {
	defaultNetwork string
	order          []string
	providers      map[string]Provider
}

// NewRegistry instantiates a provider for every definition using the factory
// registered for its protocol. defaultNetwork overrides defs.Default; when
// both are empty the first network in sorted order becomes the default.
func NewRegistry(ctx context.Context, defs NetworkDefinitions, factories map[string]Factory, defaultNetwork string) (*Registry, error) {
	if len(defs.Networks) == 0 {
		return nil, xerrors.New(CodeNetworkUnavailable, "未配置任何网络")
	}

	reg := &Registry{providers: make(map[string]Provider, len(defs.Networks))}
	for _, name := range defs.Names() {
		def := defs.Networks[name]
		protocol := NormalizeProtocol(def.Protocol)
		factory, ok := factories[protocol]
		if !ok || factory == nil {
			reg.Close()
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("网络 %s 使用了不支持的协议 %s", name, protocol))
		}
		provider, err := factory(ctx, name, def)
		if err != nil {
			reg.Close()
			return nil, xerrors.Wrap(CodeNetworkUnavailable, err, fmt.Sprintf("初始化网络 %s 失败", name))
		}
		reg.providers[name] = provider
		reg.order = append(reg.order, name)
		logger.Component("wallet").Info("网络已连接",
			slog.String("network", name),
			slog.String("protocol", protocol),
			slog.String("address", provider.Address()),
		)
	}

	chosen := strings.TrimSpace(defaultNetwork)
	if chosen == "" {
		chosen = defs.Default
	}
	if chosen == "" {
		chosen = reg.order[0]
	}
	if _, ok := reg.providers[chosen]; !ok {
		reg.Close()
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("默认网络 %s 未在配置中找到", chosen))
	}
	reg.defaultNetwork = chosen
	return reg, nil
}

// Default returns the provider of the default network.
func (r *Registry) Default() (Provider, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的网络注册表")
	}
	return r.Provider(r.defaultNetwork)
}

// DefaultNetwork returns the name of the default network.
func (r *Registry) DefaultNetwork() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
}

// Provider returns the provider bound to the named network.
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的网络注册表")
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("网络 %s 未配置", name))
	}
	return provider, nil
}

// Networks returns the registered network names in sorted order.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Close releases providers that hold connections.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, provider := range r.providers {
		if closer, ok := provider.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Component("wallet").Warn("关闭网络连接失败", slog.String("network", name), slog.Any("error", err))
			}
		}
		delete(r.providers, name)
	}
	r.order = nil
}
