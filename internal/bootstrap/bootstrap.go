package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"OpenMCP-WalletKit/internal/action"
	"OpenMCP-WalletKit/internal/action/erc20"
	"OpenMCP-WalletKit/internal/action/walletops"
	"OpenMCP-WalletKit/internal/config"
	"OpenMCP-WalletKit/internal/invocation"
	"OpenMCP-WalletKit/internal/observability/alerting"
	storagemysql "OpenMCP-WalletKit/internal/storage/mysql"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/internal/wallet/evm"
	"OpenMCP-WalletKit/pkg/logger"
)

// InitLogging 根据配置初始化全局日志。
func InitLogging(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	})
}

// NetworkDefinitions 返回网络定义：优先读取网络文件，否则用 rpc_url 构造单一网络。
func NetworkDefinitions(cfg config.WalletConfig) (wallet.NetworkDefinitions, error) {
	if strings.TrimSpace(cfg.Networks) != "" {
		return wallet.LoadNetworks(cfg.Networks)
	}
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return wallet.NetworkDefinitions{}, errors.New("wallet 需要配置 networks 文件或 rpc_url")
	}
	name := strings.TrimSpace(cfg.DefaultNetwork)
	if name == "" {
		name = "default"
	}
	return wallet.NetworkDefinitions{
		Default: name,
		Networks: map[string]wallet.NetworkDefinition{
			name: {
				Protocol: wallet.ProtocolEVM,
				RPCURL:   cfg.RPCURL,
				ChainID:  cfg.ChainID,
			},
		},
	}, nil
}

// OpenWallets 为每个网络建立 provider。
func OpenWallets(ctx context.Context, cfg config.WalletConfig) (*wallet.Registry, error) {
	defs, err := NetworkDefinitions(cfg)
	if err != nil {
		return nil, err
	}
	factories := map[string]wallet.Factory{
		wallet.ProtocolEVM: evm.Factory(cfg.ResolvePrivateKey(), cfg.ConfirmTimeout, cfg.PollInterval),
	}
	return wallet.NewRegistry(ctx, defs, factories, cfg.DefaultNetwork)
}

// Actions 返回内置的动作注册表。
func Actions() (*action.Registry, error) {
	return action.NewRegistry(erc20.Source(), walletops.Source())
}

// Toolkit 把内置动作绑定到 provider。
func Toolkit(provider wallet.Provider, opts ...toolkit.Option) (*toolkit.Toolkit, error) {
	registry, err := Actions()
	if err != nil {
		return nil, err
	}
	return toolkit.New(registry, provider, opts...)
}

// OpenStore 根据存储驱动创建调用记录存储。
func OpenStore(ctx context.Context, cfg config.StorageConfig) (invocation.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return invocation.NewMemoryStore(), nil
	case "mysql":
		store, err := invocation.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.ResolveDSN(),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

// OpenQueue 根据队列驱动创建调用队列。
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (invocation.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return invocation.NewMemoryQueue(cfg.Size), nil
	case "redis":
		queue, err := invocation.NewRedisQueue(ctx, invocation.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := invocation.NewRabbitMQQueue(invocation.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

// Alerts 构建告警分发器。日志渠道始终启用，Slack 按配置追加。
func Alerts(cfg config.AlertingConfig) (*alerting.FanoutDispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Slack.Enabled {
		slackNotifier, err := alerting.NewSlackNotifier(alerting.SlackConfig{
			Token:     cfg.Slack.ResolveToken(),
			ChannelID: cfg.Slack.Channel,
			APIURL:    cfg.Slack.APIURL,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, slackNotifier)
	}
	dispatcher := alerting.NewFanout(notifiers...)
	logger.Component("alerting").Info("告警渠道已就绪", slog.Any("channels", dispatcher.Channels()))
	return dispatcher, nil
}
