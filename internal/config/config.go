package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 LendFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Backend BackendConfig `json:"backend"`
	Web3    Web3Config    `json:"web3"`
	Assets  AssetsConfig  `json:"assets"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue"`
	Engine  EngineConfig  `json:"engine"`
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
// MetricsAddress 非空时在独立端口暴露 /metrics，便于内网抓取。
type ServerConfig struct {
	Address        string   `json:"address"`
	MetricsAddress string   `json:"metrics_address"`
	AuthTokens     []string `json:"auth_tokens"`
}

// BackendConfig 描述风控校验与台账记录所在的后端服务。
type BackendConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	SignerKeyEnv string `json:"signer_key_env"`
}

// AssetsConfig 指向资产定义文件。
type AssetsConfig struct {
	Path string `json:"path"`
}

// StorageConfig 统一描述意图执行记录的持久化后端。
type StorageConfig struct {
	IntentStore IntentStoreConfig `json:"intent_store"`
}

// IntentStoreConfig 支持 memory 与 mysql 两种驱动。
type IntentStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述异步执行所用的消息队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// EngineConfig 控制编排引擎的确认与重试行为。
type EngineConfig struct {
	ConfirmTimeoutSeconds int `json:"confirm_timeout_seconds"`
	ApproveTimeoutSeconds int `json:"approve_timeout_seconds"`
	PollIntervalSeconds   int `json:"poll_interval_seconds"`
	RetryBaseDelayMillis  int `json:"retry_base_delay_millis"`
	RetryMaxAttempts      int `json:"retry_max_attempts"`
	IntentMaxRetries      int `json:"intent_max_retries"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 15
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.SignerKeyEnv == "" {
		c.Web3.SignerKeyEnv = "LENDFLOW_SIGNER_KEY"
	}

	if c.Assets.Path == "" {
		c.Assets.Path = filepath.Join(baseDir, "assets.yaml")
	} else if !filepath.IsAbs(c.Assets.Path) {
		c.Assets.Path = filepath.Join(baseDir, c.Assets.Path)
	}

	if c.Storage.IntentStore.Driver == "" {
		c.Storage.IntentStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}

	if c.Engine.ConfirmTimeoutSeconds <= 0 {
		c.Engine.ConfirmTimeoutSeconds = 120
	}
	if c.Engine.ApproveTimeoutSeconds <= 0 {
		c.Engine.ApproveTimeoutSeconds = 60
	}
	if c.Engine.PollIntervalSeconds <= 0 {
		c.Engine.PollIntervalSeconds = 3
	}
	if c.Engine.RetryBaseDelayMillis <= 0 {
		c.Engine.RetryBaseDelayMillis = 300
	}
	if c.Engine.RetryMaxAttempts <= 0 {
		c.Engine.RetryMaxAttempts = 2
	}
	if c.Engine.IntentMaxRetries <= 0 {
		c.Engine.IntentMaxRetries = 3
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
