package config

import (
	"fmt"
	"time"
)

// Config is the complete memflow configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Memory        MemoryConfig        `yaml:"memory"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Inference     InferenceConfig     `yaml:"inference"`
	Bus           BusConfig           `yaml:"bus"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Log           LogConfig           `yaml:"log"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig configures the HTTP request surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SessionRPS bounds per-session request rate; 0 disables limiting.
	SessionRPS   float64 `yaml:"session_rps"`
	SessionBurst int     `yaml:"session_burst"`
}

// RedisConfig configures the short-term store and event bus connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MongoConfig configures the durable long-term store. An empty URI selects
// the in-memory long-term store (dev and test).
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// MemoryConfig configures windowing, budgets, and merge behavior.
type MemoryConfig struct {
	// WindowSize bounds the short-term turn window per session.
	WindowSize int `yaml:"window_size"`
	// WindowTTL expires idle session windows.
	WindowTTL time.Duration `yaml:"window_ttl"`
	// RetrieveShort / RetrieveLong bound how many candidates each tier
	// contributes to a merge.
	RetrieveShort int `yaml:"retrieve_short"`
	RetrieveLong  int `yaml:"retrieve_long"`
	// RetrieveTimeout bounds each retrieval tier; an expired tier
	// degrades to an empty contribution.
	RetrieveTimeout time.Duration `yaml:"retrieve_timeout"`
	// TokenBudget bounds the assembled context in tokens; 0 disables the
	// token bound and leaves only the item bound.
	TokenBudget int `yaml:"token_budget"`
	ItemBudget  int `yaml:"item_budget"`
	// ChronologicalOrder emits merged context oldest-first instead of by
	// descending relevance.
	ChronologicalOrder bool `yaml:"chronological_order"`
	// TokenizerModel selects the tiktoken encoding for the token budget.
	TokenizerModel string `yaml:"tokenizer_model"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// InferenceConfig configures the generation backend client.
type InferenceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BusConfig configures the consolidation event stream.
type BusConfig struct {
	Stream         string        `yaml:"stream"`
	Group          string        `yaml:"group"`
	Consumer       string        `yaml:"consumer"`
	Block          time.Duration `yaml:"block"`
	MaxAttempts    int           `yaml:"max_attempts"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	PublishRetries int           `yaml:"publish_retries"`
	PublishBackoff time.Duration `yaml:"publish_backoff"`
}

// ConsolidationConfig configures the promotion pipeline.
type ConsolidationConfig struct {
	Workers             int     `yaml:"workers"`
	ImportanceThreshold float64 `yaml:"importance_threshold"`
	// SummarizeEvery triggers an extractive window summary after this many
	// consolidated ranges per session; 0 disables summaries.
	SummarizeEvery int `yaml:"summarize_every"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the zap development encoder.
	Development bool `yaml:"development"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			SessionRPS:      5,
			SessionBurst:    10,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Mongo: MongoConfig{
			Database:   "memflow",
			Collection: "memory_items",
		},
		Memory: MemoryConfig{
			WindowSize:      20,
			WindowTTL:       time.Hour,
			RetrieveShort:   10,
			RetrieveLong:    3,
			RetrieveTimeout: 5 * time.Second,
			TokenBudget:     2048,
			ItemBudget:      16,
			TokenizerModel:  "gpt-4o",
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   15 * time.Second,
		},
		Inference: InferenceConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Bus: BusConfig{
			Stream:         "memflow:events",
			Group:          "consolidation",
			Consumer:       "consumer-1",
			Block:          5 * time.Second,
			MaxAttempts:    3,
			MaxInFlight:    16,
			PublishRetries: 3,
			PublishBackoff: 100 * time.Millisecond,
		},
		Consolidation: ConsolidationConfig{
			Workers:             4,
			ImportanceThreshold: 0.5,
			SummarizeEvery:      10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "memflow",
			SampleRate:  1.0,
		},
	}
}

// Validate rejects configurations that would make retrieval or
// consolidation meaningless.
func (c Config) Validate() error {
	if c.Memory.WindowSize <= 0 {
		return fmt.Errorf("memory.window_size must be positive, got %d", c.Memory.WindowSize)
	}
	if c.Memory.ItemBudget <= 0 {
		return fmt.Errorf("memory.item_budget must be positive, got %d", c.Memory.ItemBudget)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if t := c.Consolidation.ImportanceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("consolidation.importance_threshold must be in [0,1], got %v", t)
	}
	if c.Consolidation.Workers <= 0 {
		return fmt.Errorf("consolidation.workers must be positive, got %d", c.Consolidation.Workers)
	}
	if c.Bus.MaxAttempts <= 0 {
		return fmt.Errorf("bus.max_attempts must be positive, got %d", c.Bus.MaxAttempts)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	return nil
}
