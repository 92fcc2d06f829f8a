package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document QA pipeline
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	BearerToken string `mapstructure:"bearer_token"`
}

// LLMConfig selects the generation/embedding provider
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai, gemini
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig controls chunking and ensemble ranking
type RetrievalConfig struct {
	WindowSize        int     `mapstructure:"window_size"`        // words per chunk
	Overlap           int     `mapstructure:"overlap"`            // overlapping words between chunks
	TopK              int     `mapstructure:"top_k"`              // chunks handed to the generator
	CandidateMultiple int     `mapstructure:"candidate_multiple"` // per-index fan-in = top_k * multiple
	LexicalWeight     float64 `mapstructure:"lexical_weight"`
	SemanticWeight    float64 `mapstructure:"semantic_weight"`
}

// EngineConfig controls batch execution against the generation service
type EngineConfig struct {
	MaxConcurrentGenerations int           `mapstructure:"max_concurrent_generations"`
	MaxRetries               int           `mapstructure:"max_retries"`
	RetryBackoff             time.Duration `mapstructure:"retry_backoff"`
}

// CacheConfig controls the document and answer caches
type CacheConfig struct {
	Dir         string        `mapstructure:"dir"`
	DocumentTTL time.Duration `mapstructure:"document_ttl"`
	HotTier     string        `mapstructure:"hot_tier"` // inmemory, redis
	HotMaxSize  int           `mapstructure:"hot_max_size"`
	HotTTL      time.Duration `mapstructure:"hot_ttl"`
	JanitorCron string        `mapstructure:"janitor_cron"`
}

// StorageConfig holds connection settings for external stores
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"password"`
	DB   int    `mapstructure:"db"`
}

// DSN builds a Postgres connection string from either the URL or discrete fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", errors.New("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

func (r RetrievalConfig) Validate() error {
	if r.WindowSize <= 0 {
		return fmt.Errorf("retrieval.window_size must be > 0")
	}
	if r.Overlap < 0 || r.Overlap >= r.WindowSize {
		return fmt.Errorf("retrieval.overlap must be in [0, window_size)")
	}
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if r.LexicalWeight < 0 || r.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must be >= 0")
	}
	if r.LexicalWeight+r.SemanticWeight == 0 {
		return fmt.Errorf("retrieval weights must not both be zero")
	}
	return nil
}

func (e EngineConfig) Validate() error {
	if e.MaxConcurrentGenerations <= 0 {
		return fmt.Errorf("engine.max_concurrent_generations must be > 0")
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}
	return nil
}

// Load reads configuration from a JSON file plus DOCQUERY_* environment
// overrides. A missing config file is not an error; defaults and env apply.
func Load(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.completion_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 500)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("retrieval.window_size", 1024)
	viper.SetDefault("retrieval.overlap", 212)
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.candidate_multiple", 2)
	viper.SetDefault("retrieval.lexical_weight", 0.5)
	viper.SetDefault("retrieval.semantic_weight", 0.5)
	viper.SetDefault("engine.max_concurrent_generations", 3)
	viper.SetDefault("engine.max_retries", 2)
	viper.SetDefault("engine.retry_backoff", "500ms")
	viper.SetDefault("cache.dir", "data")
	viper.SetDefault("cache.document_ttl", "168h")
	viper.SetDefault("cache.hot_tier", "inmemory")
	viper.SetDefault("cache.hot_max_size", 1000)
	viper.SetDefault("cache.hot_ttl", "24h")
	viper.SetDefault("cache.janitor_cron", "@daily")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCQUERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Retrieval.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
