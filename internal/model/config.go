package model

import "time"

// Config is the full sentinel configuration tree
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka" mapstructure:"kafka"`
	Admin     AdminConfig     `yaml:"admin" mapstructure:"admin"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" mapstructure:"timeouts"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources"` // seeded into the store on startup
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// RedisConfig configures the shared embedding cache and vector index.
// An empty Addr keeps both in-process.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Vectors  bool          `yaml:"vectors" mapstructure:"vectors"` // keep the vector index in redis
}

// KafkaConfig configures event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// AdminConfig configures the admin control plane listener
type AdminConfig struct {
	Addr  string `yaml:"addr" mapstructure:"addr"`
	Token string `yaml:"token,omitempty" mapstructure:"token"`
}

// SchedulerConfig configures the heartbeat
type SchedulerConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	Jitter            float64       `yaml:"jitter" mapstructure:"jitter"` // fraction of the interval
	MaxFailures       int           `yaml:"max_failures" mapstructure:"max_failures"`
	JobTimeout        time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
	SweepInterval     time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	SyncInterval      time.Duration `yaml:"sync_interval" mapstructure:"sync_interval"`
}

// PipelineConfig bounds per-job work
type PipelineConfig struct {
	ItemWorkers        int           `yaml:"item_workers" mapstructure:"item_workers"`
	ScoringConcurrency int           `yaml:"scoring_concurrency" mapstructure:"scoring_concurrency"`
	MaxPages           int           `yaml:"max_pages" mapstructure:"max_pages"`
	MaxChars           int           `yaml:"max_chars" mapstructure:"max_chars"`
	SweepMinAge        time.Duration `yaml:"sweep_min_age" mapstructure:"sweep_min_age"`
	SweepBatch         int           `yaml:"sweep_batch" mapstructure:"sweep_batch"`
	PersistAttempts    int           `yaml:"persist_attempts" mapstructure:"persist_attempts"`
	PersistBackoff     time.Duration `yaml:"persist_backoff" mapstructure:"persist_backoff"`
}

// DedupConfig configures near-duplicate detection
type DedupConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"` // inclusive
	Neighbors int     `yaml:"neighbors" mapstructure:"neighbors"`
	Partition string  `yaml:"partition" mapstructure:"partition"` // source_type or global
}

// ScoringConfig configures the credibility scorer and its provider chain
type ScoringConfig struct {
	AcceptThreshold  int              `yaml:"accept_threshold" mapstructure:"accept_threshold"` // below this -> discard:hype
	FailureThreshold int              `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration    `yaml:"cooldown" mapstructure:"cooldown"`
	Providers        []ProviderConfig `yaml:"providers" mapstructure:"providers"` // tried in order
}

// ProviderConfig is one entry of the LLM provider chain
type ProviderConfig struct {
	Name      string `yaml:"name" mapstructure:"name"` // openai, groq, anthropic, ollama
	Model     string `yaml:"model" mapstructure:"model"`
	APIKey    string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // openai or ollama
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty" mapstructure:"base_url"`
}

// TimeoutConfig holds the deadline of every external call kind
type TimeoutConfig struct {
	Fetch time.Duration `yaml:"fetch" mapstructure:"fetch"`
	Embed time.Duration `yaml:"embed" mapstructure:"embed"`
	Index time.Duration `yaml:"index" mapstructure:"index"`
	LLM   time.Duration `yaml:"llm" mapstructure:"llm"`
	Store time.Duration `yaml:"store" mapstructure:"store"`
}

// HTTPConfig is shared by all source connectors
type HTTPConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // per host
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "sentinel.db",
		},
		Redis: RedisConfig{CacheTTL: 24 * time.Hour},
		Kafka: KafkaConfig{Topic: "sentinel.events"},
		Admin: AdminConfig{Addr: "127.0.0.1:8088"},
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs: 4,
			Jitter:            0.1,
			MaxFailures:       5,
			JobTimeout:        10 * time.Minute,
			ShutdownGrace:     30 * time.Second,
			SweepInterval:     5 * time.Minute,
			SyncInterval:      time.Minute,
		},
		Pipeline: PipelineConfig{
			ItemWorkers:        4,
			ScoringConcurrency: 2,
			MaxPages:           5,
			MaxChars:           4000,
			SweepMinAge:        2 * time.Minute,
			SweepBatch:         100,
			PersistAttempts:    3,
			PersistBackoff:     200 * time.Millisecond,
		},
		Dedup: DedupConfig{
			Threshold: 0.9,
			Neighbors: 5,
			Partition: "source_type",
		},
		Scoring: ScoringConfig{
			AcceptThreshold:  4,
			FailureThreshold: 3,
			Cooldown:         2 * time.Minute,
			Providers: []ProviderConfig{
				{Name: "groq", Model: "llama-3.1-70b-versatile", MaxTokens: 200},
				{Name: "openai", Model: "gpt-4o", MaxTokens: 200},
				{Name: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 200},
			},
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Timeouts: TimeoutConfig{
			Fetch: 30 * time.Second,
			Embed: 20 * time.Second,
			Index: 5 * time.Second,
			LLM:   30 * time.Second,
			Store: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			UserAgent:         "sentinel/0.1 (+https://github.com/ppiankov/sentinel)",
			RequestsPerSecond: 1,
			Burst:             3,
			RespectRobots:     true,
		},
	}
}
