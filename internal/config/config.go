package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"OnChainAgents/pkg/logger"
)

// Config 描述了代理服务在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	LLM     LLMConfig     `json:"llm"`
	Web3    Web3Config    `json:"web3"`
	Agent   AgentConfig   `json:"agent"`
	Events  EventsConfig  `json:"events"`
	Keyring KeyringConfig `json:"keyring"`
	Logging logger.Config `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述身份存储后端的连接信息。
type StorageConfig struct {
	IdentityStore IdentityStoreConfig `json:"identity_store"`
}

// IdentityStoreConfig 选择身份存储驱动：file、mysql 或 redis。
type IdentityStoreConfig struct {
	Driver string      `json:"driver"`
	Dir    string      `json:"dir"`
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// LLMConfig 用于配置推理引擎的调用方式。
type LLMConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	BaseURL           string  `json:"base_url"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	Burst             int     `json:"burst"`
}

// Web3Config 描述链网络定义与合约制品的位置。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	ArtifactsDir string `json:"artifacts_dir"`
}

// AgentConfig 控制规划与调度的边界。
type AgentConfig struct {
	MaxSteps              int    `json:"max_steps"`
	PlanTimeoutSeconds    int    `json:"plan_timeout_seconds"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
	KnowledgePath         string `json:"knowledge_path"`
}

// EventsConfig 选择生命周期事件的发布方式：memory、redis 或 rabbitmq。
type EventsConfig struct {
	Driver     string      `json:"driver"`
	Redis      RedisConfig `json:"redis"`
	RedisList  string      `json:"redis_list"`
	MaxLen     int64       `json:"max_len"`
	AMQPURL    string      `json:"amqp_url"`
	Exchange   string      `json:"exchange"`
	RoutingKey string      `json:"routing_key"`
}

// KeyringConfig 指定在系统钥匙串中查找钱包口令的位置。
type KeyringConfig struct {
	Service string `json:"service"`
	User    string `json:"user"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Storage.IdentityStore.Driver {
	case "file":
	case "mysql":
		if strings.TrimSpace(c.Storage.IdentityStore.DSN) == "" {
			return errors.New("mysql 身份存储需要配置 dsn")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.IdentityStore.Redis.Addr) == "" {
			return errors.New("redis 身份存储需要配置 addr")
		}
	default:
		return fmt.Errorf("未知的身份存储驱动 %s", c.Storage.IdentityStore.Driver)
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("未知的推理引擎 %s", c.LLM.Provider)
	}

	switch c.Events.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的事件驱动 %s", c.Events.Driver)
	}

	if strings.TrimSpace(c.Web3.ChainConfig) == "" && strings.TrimSpace(c.Web3.RPCURL) == "" {
		return errors.New("未配置任何链的 RPC 端点")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}

	store := &c.Storage.IdentityStore
	if store.Driver == "" {
		store.Driver = "file"
	}
	if store.Dir == "" {
		store.Dir = filepath.Join(c.Runtime.DataDir, "wallet_storage")
	} else {
		store.Dir = resolve(baseDir, store.Dir)
	}
	if store.Redis.Prefix == "" {
		store.Redis.Prefix = "onchain"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.Model = "gemini-2.0-flash"
		default:
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.RequestsPerMinute <= 0 {
		c.LLM.RequestsPerMinute = 60
	}
	if c.LLM.Burst <= 0 {
		c.LLM.Burst = 5
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.ArtifactsDir != "" {
		c.Web3.ArtifactsDir = resolve(baseDir, c.Web3.ArtifactsDir)
	}

	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 6
	}
	if c.Agent.PlanTimeoutSeconds <= 0 {
		c.Agent.PlanTimeoutSeconds = 90
	}
	if c.Agent.ReceiptTimeoutSeconds <= 0 {
		c.Agent.ReceiptTimeoutSeconds = 120
	}
	if c.Agent.KnowledgePath != "" {
		c.Agent.KnowledgePath = resolve(baseDir, c.Agent.KnowledgePath)
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.RedisList == "" {
		c.Events.RedisList = "onchain:events"
	}
	if c.Events.MaxLen <= 0 {
		c.Events.MaxLen = 1000
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "onchain.events"
	}
	if c.Events.RoutingKey == "" {
		c.Events.RoutingKey = "agents"
	}

	if c.Keyring.Service == "" {
		c.Keyring.Service = "onchain-agents"
	}
	if c.Keyring.User == "" {
		c.Keyring.User = "wallet-passphrase"
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
