package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "WALLETKIT_CONFIG"

// Config 描述了 walletkit 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Agent     AgentConfig     `yaml:"agent"`
	Processor ProcessorConfig `yaml:"processor"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	Tokens          []string      `yaml:"tokens"`
	TokensEnv       string        `yaml:"tokens_env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WalletConfig 描述签名钱包与链网络。
type WalletConfig struct {
	// Networks 指向网络定义 YAML 文件，为空时使用 RPCURL 构造单一网络。
	Networks       string        `yaml:"networks"`
	DefaultNetwork string        `yaml:"default_network"`
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        int64         `yaml:"chain_id"`
	PrivateKey     string        `yaml:"private_key"`
	PrivateKeyEnv  string        `yaml:"private_key_env"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// StorageConfig 描述调用记录的存储后端。
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig 描述异步调用使用的消息队列。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig Redis 队列参数。
type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Queue     string        `yaml:"queue"`
	BlockWait time.Duration `yaml:"block_wait"`
}

// RabbitMQConfig RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ProcessorConfig 控制异步调用的工作协程。
type ProcessorConfig struct {
	Workers int `yaml:"workers"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig Slack 告警参数。
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
	APIURL   string `yaml:"api_url"`
}

// AgentConfig 描述对话智能体使用的大模型。
type AgentConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	Workspace     string        `yaml:"workspace"`
	SystemPrompt  string        `yaml:"system_prompt"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析 YAML 内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join("logs", "audit.log")
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	c.Wallet.Networks = resolve(baseDir, c.Wallet.Networks)
	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "WALLETKIT_PRIVATE_KEY"
	}
	if c.Wallet.ConfirmTimeout <= 0 {
		c.Wallet.ConfirmTimeout = 2 * time.Minute
	}
	if c.Wallet.PollInterval <= 0 {
		c.Wallet.PollInterval = time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "walletkit:invocations"
	}
	if c.Queue.Redis.BlockWait <= 0 {
		c.Queue.Redis.BlockWait = 5 * time.Second
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "walletkit.invocations"
	}

	if c.Processor.Workers <= 0 {
		c.Processor.Workers = 4
	}

	if c.Alerting.Slack.TokenEnv == "" {
		c.Alerting.Slack.TokenEnv = "WALLETKIT_SLACK_TOKEN"
	}

	if c.Agent.Provider == "" {
		c.Agent.Provider = "anthropic"
	}
	if c.Agent.APIKeyEnv == "" {
		if c.Agent.Provider == "openai" {
			c.Agent.APIKeyEnv = "OPENAI_API_KEY"
		} else {
			c.Agent.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = 5 * time.Minute
	}
	if c.Agent.Workspace == "" {
		c.Agent.Workspace = baseDir
	} else {
		c.Agent.Workspace = resolve(baseDir, c.Agent.Workspace)
	}
}

// applyEnv 允许通过 WALLETKIT_* 环境变量覆盖常用字段。
func (c *Config) applyEnv() {
	if v := os.Getenv("WALLETKIT_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("WALLETKIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WALLETKIT_RPC_URL"); v != "" {
		c.Wallet.RPCURL = v
	}
	if v := os.Getenv("WALLETKIT_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Wallet.ChainID = id
		}
	}
	if v := os.Getenv("WALLETKIT_NETWORK"); v != "" {
		c.Wallet.DefaultNetwork = v
	}
	if v := os.Getenv("WALLETKIT_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("WALLETKIT_QUEUE_DRIVER"); v != "" {
		c.Queue.Driver = v
	}
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}
	switch c.Agent.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.Agent.Provider)
	}
	return nil
}

// ResolvePrivateKey 返回签名私钥，优先读取环境变量。
func (w WalletConfig) ResolvePrivateKey() string {
	if w.PrivateKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(w.PrivateKeyEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(w.PrivateKey)
}

// ResolveDSN 返回 MySQL DSN，优先读取环境变量。
func (s StorageConfig) ResolveDSN() string {
	if s.DSNEnv != "" {
		if v := strings.TrimSpace(os.Getenv(s.DSNEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(s.DSN)
}

// ResolveTokens 合并配置文件与环境变量中的访问令牌。
func (s ServerConfig) ResolveTokens() []string {
	tokens := make([]string, 0, len(s.Tokens))
	for _, token := range s.Tokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	if s.TokensEnv != "" {
		for _, token := range strings.Split(os.Getenv(s.TokensEnv), ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// ResolveToken 返回 Slack bot token。
func (s SlackConfig) ResolveToken() string {
	if s.TokenEnv != "" {
		if v := strings.TrimSpace(os.Getenv(s.TokenEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(s.Token)
}

// ResolveAPIKey 返回大模型 API key。
func (a AgentConfig) ResolveAPIKey() string {
	if a.APIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(a.APIKeyEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(a.APIKey)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
