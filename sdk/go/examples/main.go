package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"OpenMCP-WalletKit/internal/action"
	"OpenMCP-WalletKit/internal/action/erc20"
	"OpenMCP-WalletKit/internal/action/walletops"
	"OpenMCP-WalletKit/internal/api"
	"OpenMCP-WalletKit/internal/invocation"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/internal/wallet/wallettest"
	"OpenMCP-WalletKit/sdk/go/walletkit"
)

// 使用内存钱包启动一个本地服务，演示 SDK 的同步与异步调用。
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry, err := action.NewRegistry(erc20.Source(), walletops.Source())
	if err != nil {
		panic(err)
	}
	kit, err := toolkit.New(registry, wallettest.New())
	if err != nil {
		panic(err)
	}
	store := invocation.NewMemoryStore()
	queue := invocation.NewMemoryQueue(8)
	service := invocation.NewService(store, queue, kit)
	go func() { _ = invocation.NewProcessor(kit, store, queue).Start(ctx) }()

	srv := httptest.NewServer(api.NewServer("", kit, api.WithInvocations(service)).Handler())
	defer srv.Close()

	client, err := walletkit.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		panic(err)
	}
	for _, t := range tools {
		fmt.Printf("tool %s (%s)\n", t.Name, t.Source)
	}

	details, err := client.InvokeTool(ctx, "get_wallet_details", nil)
	if err != nil {
		panic(err)
	}
	fmt.Printf("get_wallet_details: %s\n", details.Output)

	inv, err := client.SubmitInvocation(ctx, walletkit.InvocationRequest{
		ID:   "demo-transfer",
		Tool: "native_transfer",
		Arguments: map[string]any{
			"destinationAddress": "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			"amount":             "1000000000000000",
		},
	})
	if err != nil {
		panic(err)
	}
	done, err := client.WaitInvocation(ctx, inv.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("invocation %s %s: %s\n", done.ID, done.Status, done.Output)
}
