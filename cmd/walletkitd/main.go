package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenMCP-WalletKit/internal/api"
	"OpenMCP-WalletKit/internal/auth"
	"OpenMCP-WalletKit/internal/bootstrap"
	"OpenMCP-WalletKit/internal/config"
	"OpenMCP-WalletKit/internal/invocation"
	"OpenMCP-WalletKit/internal/observability/alerting"
	"OpenMCP-WalletKit/internal/observability/metrics"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/pkg/logger"
)

// main 是 walletkit 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("walletkitd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "walletkit.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := bootstrap.InitLogging(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Component("walletkitd")

	wallets, err := bootstrap.OpenWallets(ctx, cfg.Wallet)
	if err != nil {
		return err
	}
	defer wallets.Close()

	provider, err := wallets.Default()
	if err != nil {
		return err
	}

	alerts, err := bootstrap.Alerts(cfg.Alerting)
	if err != nil {
		return err
	}
	metricsRegistry := metrics.New()
	toolAlerts := alerting.NewToolObserver(alerts)
	// 退出前等待后台告警投递完成。
	defer toolAlerts.Flush()

	kit, err := bootstrap.Toolkit(provider,
		toolkit.WithObserver(metricsRegistry),
		toolkit.WithObserver(toolAlerts),
	)
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	queue, err := bootstrap.OpenQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}
	service := invocation.NewService(store, queue, kit)
	defer func() {
		if err := service.Close(); err != nil {
			appLog.Warn("关闭调用服务失败", slog.Any("error", err))
		}
	}()

	processor := invocation.NewProcessor(kit, store, queue,
		invocation.WithWorkerCount(cfg.Processor.Workers),
		invocation.WithAlertDispatcher(alerts),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("调用处理器异常退出", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokenService(cfg.Server.ResolveTokens())
	server := api.NewServer(cfg.Server.Address, kit,
		api.WithInvocations(service),
		api.WithMetrics(metricsRegistry),
		api.WithAuth(tokens),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	appLog.Info("walletkitd 启动",
		slog.String("network", wallets.DefaultNetwork()),
		slog.Any("networks", wallets.Networks()),
		slog.String("address", provider.Address()),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("auth", string(tokens.Mode())),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Info("walletkitd 已停止")
	return nil
}
