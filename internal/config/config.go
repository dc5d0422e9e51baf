// Package config loads application configuration from a YAML file, a .env
// file, and the environment, in that order of increasing priority — the
// same layering the teacher repo uses (spf13/viper + joho/godotenv).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App           App           `mapstructure:"app"`
	Server        Server        `mapstructure:"server"`
	AI            AI            `mapstructure:"ai"`
	Search        Search        `mapstructure:"search"`
	Database      Database      `mapstructure:"database"`
	VectorIndex   VectorIndex   `mapstructure:"vector_index"`
	Cache         Cache         `mapstructure:"cache"`
	Pipeline      Pipeline      `mapstructure:"pipeline"`
	Dialogue      Dialogue      `mapstructure:"dialogue"`
	Memory        Memory        `mapstructure:"memory"`
	Logging       Logging       `mapstructure:"logging"`
	Auth          Auth          `mapstructure:"auth"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS configuration (§6 "CORS allowed origins").
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds the HTTP surface's own inbound throttle, distinct
// from the outbound provider rate limiting in internal/ratelimit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// AI holds LLM + embedding provider configuration (§4.4, §6 "LLM provider key").
type AI struct {
	Model              string        `mapstructure:"model"`
	EmbeddingModel     string        `mapstructure:"embedding_model"`
	EmbeddingDimension int           `mapstructure:"embedding_dimension"`
	APIKey             string        `mapstructure:"api_key"`
	Timeout            time.Duration `mapstructure:"timeout"`
	CompletionTimeout  time.Duration `mapstructure:"completion_timeout"`
	EmbedTimeout       time.Duration `mapstructure:"embed_timeout"`
	Temperature        float32       `mapstructure:"temperature"`
	MaxTokens          int32         `mapstructure:"max_tokens"`
	TokenizerEncoding  string        `mapstructure:"tokenizer_encoding"`
	Concurrency        int           `mapstructure:"concurrency"`
}

// Search holds the news search provider configuration (§4.1, §6 "search
// provider key").
type Search struct {
	DefaultProvider     string  `mapstructure:"default_provider"`
	APIKey              string  `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
	Concurrency         int     `mapstructure:"concurrency"`
}

// Database holds the document store connection (§6 "document-store connection").
type Database struct {
	ConnectionString string `mapstructure:"connection_string"`
	MaxConnections   int    `mapstructure:"max_connections"`
	IdleConnections  int    `mapstructure:"idle_connections"`
}

// VectorIndex holds the vector index connection (§6 "vector-index connection").
type VectorIndex struct {
	ConnectionString string  `mapstructure:"connection_string"`
	SimilarityFloor  float64 `mapstructure:"similarity_floor"`
	Concurrency      int     `mapstructure:"concurrency"`
}

// Cache holds the session/provider-response cache connection (§6 "cache connection").
type Cache struct {
	ConnectionString string        `mapstructure:"connection_string"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	ResponseTTL      time.Duration `mapstructure:"response_ttl"`
}

// Pipeline holds orchestrator defaults and deadlines (§4.8, §5, §6).
type Pipeline struct {
	DeadlineSeconds    int `mapstructure:"deadline_seconds"`
	DefaultNumResults  int `mapstructure:"default_num_results"`
	MaxNumResults      int `mapstructure:"max_num_results"`
	DefaultMaxCards    int `mapstructure:"default_max_cards"`
	MaxMaxCards        int `mapstructure:"max_max_cards"`
}

// Dialogue holds C10's session defaults (§4.10, §5).
type Dialogue struct {
	TurnDeadlineSeconds int     `mapstructure:"turn_deadline_seconds"`
	MaxContextNews      int     `mapstructure:"max_context_news"`
	DefaultContextNews  int     `mapstructure:"default_context_news"`
	Temperature         float32 `mapstructure:"temperature"`
	MaxTokens           int32   `mapstructure:"max_tokens"`
	HistoryCap          int     `mapstructure:"history_cap"`
	ContextWindowTokens int     `mapstructure:"context_window_tokens"`
	RetrievalFloor      float64 `mapstructure:"retrieval_floor"`
}

// Memory holds C7's interest-vector decay tunables (spec §4.7, Open Question 3).
type Memory struct {
	HalfLifeDays  float64            `mapstructure:"half_life_days"`
	ActionWeights map[string]float64 `mapstructure:"action_weights"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Auth is a pass-through placeholder: authentication is an external
// collaborator (spec §1), the core only needs to know where the signing
// secret lives so it can be handed to that collaborator.
type Auth struct {
	JWTSigningSecret string `mapstructure:"jwt_signing_secret"`
}

var globalConfig *Config

// Load reads configuration from configFile, or newsroom.yaml in the working
// directory or $HOME when configFile is empty (if present), a .env file (if
// present), and the environment, unmarshals it, and applies defaults.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName("newsroom")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the already-loaded global configuration, loading it with
// defaults if Load was never called.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".newsroom-cache")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.requests_per_minute", 120)

	viper.SetDefault("ai.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.embedding_dimension", 768)
	viper.SetDefault("ai.timeout", "60s")
	viper.SetDefault("ai.completion_timeout", "60s")
	viper.SetDefault("ai.embed_timeout", "30s")
	viper.SetDefault("ai.temperature", 0.7)
	viper.SetDefault("ai.max_tokens", 1200)
	viper.SetDefault("ai.tokenizer_encoding", "cl100k_base")
	viper.SetDefault("ai.concurrency", 4)

	viper.SetDefault("search.default_provider", "newsapi")
	viper.SetDefault("search.timeout", "20s")
	viper.SetDefault("search.requests_per_second", 2.0)
	viper.SetDefault("search.burst", 2)
	viper.SetDefault("search.concurrency", 4)

	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.idle_connections", 5)

	viper.SetDefault("vector_index.similarity_floor", 0.2)
	viper.SetDefault("vector_index.concurrency", 4)

	viper.SetDefault("cache.session_ttl", "168h")
	viper.SetDefault("cache.response_ttl", "15m")

	viper.SetDefault("pipeline.deadline_seconds", 300)
	viper.SetDefault("pipeline.default_num_results", 10)
	viper.SetDefault("pipeline.max_num_results", 100)
	viper.SetDefault("pipeline.default_max_cards", 5)
	viper.SetDefault("pipeline.max_max_cards", 10)

	viper.SetDefault("dialogue.turn_deadline_seconds", 120)
	viper.SetDefault("dialogue.max_context_news", 10)
	viper.SetDefault("dialogue.default_context_news", 5)
	viper.SetDefault("dialogue.temperature", 0.7)
	viper.SetDefault("dialogue.max_tokens", 1200)
	viper.SetDefault("dialogue.history_cap", 30)
	viper.SetDefault("dialogue.context_window_tokens", 32000)
	viper.SetDefault("dialogue.retrieval_floor", 0.2)

	viper.SetDefault("memory.half_life_days", 14.0)
	viper.SetDefault("memory.action_weights", map[string]interface{}{
		"query":         1.0,
		"view":          0.3,
		"like":          1.5,
		"share":         1.2,
		"dialogue-turn": 0.8,
	})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
