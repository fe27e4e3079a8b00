package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Auth       AuthConfig       `json:"auth"`
	Wallet     WalletConfig     `json:"wallet"`
	Accounts   AccountsConfig   `json:"accounts"`
	Bridge     BridgeConfig     `json:"bridge"`
	Operations OperationsConfig `json:"operations"`
	Queue      QueueConfig      `json:"queue"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// AuthConfig 配置 API 的访问控制。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
}

// AuthTokenConfig 描述一条静态 token。
type AuthTokenConfig struct {
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// WalletConfig 描述根账户与 Flow access 节点的连接信息。私钥优先取
// PrivateKey 字段，为空时从 PrivateKeyEnv 指定的环境变量读取。
type WalletConfig struct {
	Network            string `json:"network"`
	AccessURL          string `json:"access_url"`
	Address            string `json:"address"`
	PrivateKey         string `json:"private_key"`
	PrivateKeyEnv      string `json:"private_key_env"`
	AcquireWaitSeconds int    `json:"acquire_wait_seconds"`
	TxTimeoutSeconds   int    `json:"tx_timeout_seconds"`
}

// AccountsConfig 描述派生账户的存储与创建参数。
type AccountsConfig struct {
	Driver         string `json:"driver"`
	DSN            string `json:"dsn"`
	InitialFunding string `json:"initial_funding"`
}

// BridgeConfig 描述跨链目录文件的位置，为空时使用内置目录。
type BridgeConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// OperationsConfig 描述操作存储的连接信息与重试上限。
type OperationsConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	MaxRetries int    `json:"max_retries"`
}

// QueueConfig 描述操作队列的驱动与工作协程数量。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 描述告警投递渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Wallet.Network == "" {
		c.Wallet.Network = "mainnet"
	}
	if c.Wallet.AccessURL == "" {
		switch c.Wallet.Network {
		case "testnet":
			c.Wallet.AccessURL = "https://rest-testnet.onflow.org"
		default:
			c.Wallet.AccessURL = "https://rest-mainnet.onflow.org"
		}
	}
	if c.Wallet.PrivateKeyEnv == "" {
		c.Wallet.PrivateKeyEnv = "FLOWGATE_PRIVATE_KEY"
	}

	if c.Accounts.Driver == "" {
		c.Accounts.Driver = "memory"
	}
	if c.Operations.Driver == "" {
		c.Operations.Driver = "memory"
	}
	if c.Operations.MaxRetries <= 0 {
		c.Operations.MaxRetries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Bridge.CatalogPath != "" && !filepath.IsAbs(c.Bridge.CatalogPath) {
		c.Bridge.CatalogPath = filepath.Join(baseDir, c.Bridge.CatalogPath)
	}
}
