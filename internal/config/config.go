package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/finlearnhub/supportdesk/internal/checkpoint"
	"github.com/finlearnhub/supportdesk/internal/retention"
	"github.com/finlearnhub/supportdesk/internal/storage"
	"github.com/finlearnhub/supportdesk/internal/tracing"
)

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

type ModelConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	ModelID     string  `mapstructure:"model_id" yaml:"model_id"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	// RateLimit 为每秒请求数，0 表示不限
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type CheckpointConfig struct {
	Backend string                 `mapstructure:"backend" yaml:"backend"`
	Redis   checkpoint.RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type AgentConfig struct {
	MaxToolRounds  int           `mapstructure:"max_tool_rounds" yaml:"max_tool_rounds"`
	MaxRunSteps    int           `mapstructure:"max_run_steps" yaml:"max_run_steps"`
	SensitiveTools []string      `mapstructure:"sensitive_tools" yaml:"sensitive_tools"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
}

type KnowledgeConfig struct {
	TopK         int             `mapstructure:"top_k" yaml:"top_k"`
	ChunkSize    int             `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int             `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	CacheSize    int             `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL     time.Duration   `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Embedding    EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
}

// EmbeddingConfig 知识库向量化模型；Provider 为空时检索退回词项匹配
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	ModelID  string `mapstructure:"model_id" yaml:"model_id"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	// BatchSize 单次请求向量化的片段数
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// Enabled 是否配置了向量化模型
func (c EmbeddingConfig) Enabled() bool {
	return c.Provider != ""
}

type MetricsConfig struct {
	// Addr 为空时不启动 /metrics
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type Config struct {
	Storage    storage.Config   `mapstructure:"storage" yaml:"storage"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge" yaml:"knowledge"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Retention  retention.Config `mapstructure:"retention" yaml:"retention"`
	Tracing    tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
	LogLevel   string           `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string           `mapstructure:"log_format" yaml:"log_format"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.supportdesk")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SUPPORTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只认识 viper 已知的 key，所以所有 key 都要先有默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Model.Provider = strings.ToLower(strings.TrimSpace(cfg.Model.Provider))
	cfg.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Backend))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Knowledge.Embedding.Provider = strings.ToLower(strings.TrimSpace(cfg.Knowledge.Embedding.Provider))

	// 与对话模型同一服务商时可以不单独配置密钥
	emb := &cfg.Knowledge.Embedding
	if emb.APIKey == "" && emb.Provider == cfg.Model.Provider {
		emb.APIKey = cfg.Model.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 只校验结构性配置；模型凭据由 ValidateModel 在需要调用模型的命令里检查。
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderArk, ProviderOpenAI:
	default:
		return fmt.Errorf("model.provider must be %q or %q, got %q", ProviderArk, ProviderOpenAI, c.Model.Provider)
	}
	switch c.Storage.Driver {
	case storage.DriverSQLite:
	case storage.DriverPostgres, storage.DriverMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, mysql; got %q", c.Storage.Driver)
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendMemory, checkpoint.BackendSQLite, checkpoint.BackendRedis:
	default:
		return fmt.Errorf("checkpoint.backend must be one of memory, sqlite, redis; got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == checkpoint.BackendRedis && c.Checkpoint.Redis.Addr == "" {
		return fmt.Errorf("checkpoint.redis.addr is required when checkpoint.backend is redis")
	}
	if c.Model.RateLimit < 0 {
		return fmt.Errorf("model.rate_limit must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent.max_tool_rounds must be positive")
	}
	if c.Agent.MaxRunSteps <= 0 {
		return fmt.Errorf("agent.max_run_steps must be positive")
	}
	if c.Knowledge.ChunkSize <= 0 || c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be positive")
	}
	switch c.Knowledge.Embedding.Provider {
	case "":
	case ProviderArk, ProviderOpenAI:
		if c.Knowledge.Embedding.ModelID == "" {
			return fmt.Errorf("knowledge.embedding.model_id is required when knowledge.embedding.provider is %s", c.Knowledge.Embedding.Provider)
		}
	default:
		return fmt.Errorf("knowledge.embedding.provider must be empty, %q or %q, got %q", ProviderArk, ProviderOpenAI, c.Knowledge.Embedding.Provider)
	}
	if c.Knowledge.Embedding.BatchSize < 0 {
		return fmt.Errorf("knowledge.embedding.batch_size must not be negative")
	}
	return nil
}

func (c *Config) ValidateModel() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required (or set ARK_API_KEY / OPENAI_API_KEY env var)")
	}
	if c.Model.ModelID == "" {
		return fmt.Errorf("model.model_id is required (or set ARK_MODEL_ID / OPENAI_MODEL env var)")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)
	v.SetDefault("storage.max_idle_conns", d.Storage.MaxIdleConns)
	v.SetDefault("storage.conn_max_lifetime", d.Storage.ConnMaxLifetime)

	v.SetDefault("checkpoint.backend", d.Checkpoint.Backend)
	v.SetDefault("checkpoint.redis.addr", "")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", d.Checkpoint.Redis.KeyPrefix)
	v.SetDefault("checkpoint.redis.ttl", d.Checkpoint.Redis.TTL)

	// 模型：同时兼容 ark 与 OpenAI 风格的环境变量
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.model_id", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.rate_limit", d.Model.RateLimit)
	v.SetDefault("model.burst", d.Model.Burst)

	_ = v.BindEnv("model.api_key", "SUPPORTDESK_MODEL_API_KEY", "ARK_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("model.model_id", "SUPPORTDESK_MODEL_MODEL_ID", "ARK_MODEL_ID", "OPENAI_MODEL")
	_ = v.BindEnv("model.base_url", "SUPPORTDESK_MODEL_BASE_URL", "ARK_BASE_URL", "OPENAI_BASE_URL")

	v.SetDefault("agent.max_tool_rounds", d.Agent.MaxToolRounds)
	v.SetDefault("agent.max_run_steps", d.Agent.MaxRunSteps)
	v.SetDefault("agent.sensitive_tools", d.Agent.SensitiveTools)
	v.SetDefault("agent.turn_timeout", d.Agent.TurnTimeout)

	v.SetDefault("knowledge.top_k", d.Knowledge.TopK)
	v.SetDefault("knowledge.chunk_size", d.Knowledge.ChunkSize)
	v.SetDefault("knowledge.chunk_overlap", d.Knowledge.ChunkOverlap)
	v.SetDefault("knowledge.cache_size", d.Knowledge.CacheSize)
	v.SetDefault("knowledge.cache_ttl", d.Knowledge.CacheTTL)
	v.SetDefault("knowledge.embedding.provider", "")
	v.SetDefault("knowledge.embedding.api_key", "")
	v.SetDefault("knowledge.embedding.model_id", "")
	v.SetDefault("knowledge.embedding.base_url", "")
	v.SetDefault("knowledge.embedding.batch_size", d.Knowledge.Embedding.BatchSize)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.workers", d.Retention.Workers)
	v.SetDefault("retention.batch_rows", d.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", d.Retention.IdleSleep)
	v.SetDefault("retention.session_ttl", d.Retention.SessionTTL)
	v.SetDefault("retention.audit_ttl", d.Retention.AuditTTL)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Storage: storage.Config{
			Driver:      storage.DriverSQLite,
			Path:        "supportdesk.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			Backend: checkpoint.BackendSQLite,
			Redis: checkpoint.RedisConfig{
				KeyPrefix: "supportdesk:checkpoint:",
				TTL:       24 * time.Hour,
			},
		},
		Model: ModelConfig{
			Provider: ProviderArk,
			Burst:    1,
		},
		Agent: AgentConfig{
			MaxToolRounds:  6,
			MaxRunSteps:    40,
			SensitiveTools: []string{"refund_processing_tool"},
		},
		Knowledge: KnowledgeConfig{
			TopK:         4,
			ChunkSize:    500,
			ChunkOverlap: 100,
			CacheSize:    256,
			CacheTTL:     5 * time.Minute,
			Embedding:    EmbeddingConfig{BatchSize: 16},
		},
		Retention: retention.DefaultConfig(),
		Tracing:   tracing.DefaultConfig(),
	}
}

const redacted = "******"

// Redacted 返回隐去凭据的副本
func (c Config) Redacted() Config {
	if c.Model.APIKey != "" {
		c.Model.APIKey = redacted
	}
	if c.Knowledge.Embedding.APIKey != "" {
		c.Knowledge.Embedding.APIKey = redacted
	}
	if c.Checkpoint.Redis.Password != "" {
		c.Checkpoint.Redis.Password = redacted
	}
	if c.Storage.DSN != "" {
		c.Storage.DSN = redacted
	}
	c.Agent.SensitiveTools = append([]string(nil), c.Agent.SensitiveTools...)
	return c
}

// YAML 以配置文件的格式输出生效配置，凭据已隐去
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
