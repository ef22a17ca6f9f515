package evm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
)

// Config describes how to reach an EVM network and which key signs.
// ChainID 为 0 时接受节点返回的链 ID。
type Config struct {
	Network    string
	RPCURL     string
	ChainID    int64
	PrivateKey string
	// ConfirmTimeout 为 0 时使用默认值。
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Dial connects to cfg.RPCURL and returns a provider that owns the
// connection.
func Dial(ctx context.Context, cfg Config) (*Provider, error) {
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 RPC 地址")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(wallet.CodeNetworkUnavailable, err, "连接以太坊节点失败")
	}

	opts := []Option{WithPollInterval(cfg.PollInterval), WithCloser(client.Close)}
	// 未配置时保留 provider 默认的确认超时。
	if cfg.ConfirmTimeout > 0 {
		opts = append(opts, WithConfirmTimeout(cfg.ConfirmTimeout))
	}
	provider, err := New(ctx, client, key, cfg.Network, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	if cfg.ChainID != 0 && provider.network.ChainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("节点链 ID %s 与配置 %d 不一致", provider.network.ChainID, cfg.ChainID))
	}
	return provider, nil
}

// Factory returns a wallet.Factory that dials each network with the same
// signing key. Per-network confirmation settings override the defaults.
func Factory(privateKey string, confirmTimeout, pollInterval time.Duration) wallet.Factory {
	return func(ctx context.Context, name string, def wallet.NetworkDefinition) (wallet.Provider, error) {
		cfg := Config{
			Network:        name,
			RPCURL:         def.RPCURL,
			ChainID:        def.ChainID,
			PrivateKey:     privateKey,
			ConfirmTimeout: confirmTimeout,
			PollInterval:   pollInterval,
		}
		if def.ConfirmTimeout > 0 {
			cfg.ConfirmTimeout = def.ConfirmTimeout
		}
		if def.PollInterval > 0 {
			cfg.PollInterval = def.PollInterval
		}
		return Dial(ctx, cfg)
	}
}
