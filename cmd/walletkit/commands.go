package main

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-WalletKit/internal/agent"
	"OpenMCP-WalletKit/internal/bootstrap"
	"OpenMCP-WalletKit/internal/config"
	"OpenMCP-WalletKit/internal/toolkit"
	"OpenMCP-WalletKit/sdk/go/walletkit"
)

// toolkitOpener 在本地模式下构建工具集，返回的 cleanup 释放网络连接。
type toolkitOpener func(ctx context.Context, cfg *config.Config, network string) (*toolkit.Toolkit, func(), error)

type cli struct {
	configPath  string
	network     string
	server      string
	token       string
	openToolkit toolkitOpener
	agentOpts   []agent.Option
}

func defaultCLI() *cli {
	return &cli{openToolkit: openLocalToolkit}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "walletkit",
		Short:         "walletkit - on-chain wallet tools for LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $WALLETKIT_CONFIG or configs/walletkit.yaml)")
	root.PersistentFlags().StringVar(&c.network, "network", "", "network to use instead of the configured default")

	tools := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Args:  cobra.NoArgs,
		RunE:  c.runTools,
	}
	invoke := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke one tool and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runInvoke,
	}
	invoke.Flags().String("args", "{}", "tool arguments as a JSON object")
	chat := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Ask the agent to act with the wallet tools",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runChat,
	}

	for _, cmd := range []*cobra.Command{tools, invoke} {
		cmd.Flags().StringVar(&c.server, "server", "", "walletkitd base URL; empty runs locally")
		cmd.Flags().StringVar(&c.token, "token", os.Getenv("WALLETKIT_TOKEN"), "bearer token for walletkitd")
	}
	root.AddCommand(tools, invoke, chat)
	return root
}

func (c *cli) runTools(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if c.server != "" {
		client, err := c.client()
		if err != nil {
			return err
		}
		tools, err := client.ListTools(cmd.Context())
		if err != nil {
			return err
		}
		for _, t := range tools {
			printTool(out, t.Name, t.Description)
		}
		return nil
	}

	kit, cleanup, err := c.localToolkit(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	for _, t := range kit.Tools() {
		printTool(out, t.Name(), t.Description())
	}
	return nil
}

func (c *cli) runInvoke(cmd *cobra.Command, args []string) error {
	name := args[0]
	raw, _ := cmd.Flags().GetString("args")
	arguments, err := parseArguments(raw)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if c.server != "" {
		client, err := c.client()
		if err != nil {
			return err
		}
		result, err := client.InvokeTool(cmd.Context(), name, arguments)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result.Output)
		if !result.OK() {
			return fmt.Errorf("%s finished with status %s", name, result.Status)
		}
		return nil
	}

	kit, cleanup, err := c.localToolkit(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	result := kit.Call(cmd.Context(), name, arguments)
	fmt.Fprintln(out, result.String())
	if !result.OK() {
		return fmt.Errorf("%s finished with status %s", name, result.Status)
	}
	return nil
}

func (c *cli) runChat(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	kit, cleanup, err := c.openToolkit(cmd.Context(), cfg, c.network)
	if err != nil {
		return err
	}
	defer cleanup()

	ag, err := agent.New(cfg.Agent, kit, c.agentOpts...)
	if err != nil {
		return err
	}
	defer ag.Close()

	reply, err := ag.Ask(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

func (c *cli) client() (*walletkit.Client, error) {
	client, err := walletkit.NewClient(c.server, nil)
	if err != nil {
		return nil, err
	}
	client.SetAccessToken(c.token)
	return client, nil
}

func (c *cli) localToolkit(ctx context.Context) (*toolkit.Toolkit, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return c.openToolkit(ctx, cfg, c.network)
}

// loadConfig 读取配置文件；未显式指定且默认文件不存在时使用默认配置。
func (c *cli) loadConfig() (*config.Config, error) {
	path := c.configPath
	explicit := path != ""
	if !explicit {
		path = os.Getenv(config.EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = filepath.Join("configs", "walletkit.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && stdErrors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func openLocalToolkit(ctx context.Context, cfg *config.Config, network string) (*toolkit.Toolkit, func(), error) {
	if err := bootstrap.InitLogging(cfg.Logging); err != nil {
		return nil, nil, err
	}
	wallets, err := bootstrap.OpenWallets(ctx, cfg.Wallet)
	if err != nil {
		return nil, nil, err
	}
	provider, err := wallets.Default()
	if network != "" {
		provider, err = wallets.Provider(network)
	}
	if err != nil {
		wallets.Close()
		return nil, nil, err
	}
	kit, err := bootstrap.Toolkit(provider)
	if err != nil {
		wallets.Close()
		return nil, nil, err
	}
	return kit, wallets.Close, nil
}

func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var args map[string]any
	if err := decoder.Decode(&args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func printTool(out io.Writer, name, description string) {
	summary, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	fmt.Fprintf(out, "%-20s %s\n", name, summary)
}
