package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the transcript library backend.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Storage StorageConfig `mapstructure:"storage"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Refresh RefreshConfig `mapstructure:"refresh"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders a postgres connection string from either the explicit URL or
// the host/port fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if err := p.Validate(); err != nil {
		return "", err
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

// RedisConfig contains Redis connection settings. Redis holds ingestion job
// locks only; the backend runs without it when host is empty.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// OpenAIConfig contains the embedding/completion provider settings.
type OpenAIConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	CompletionModel     string        `mapstructure:"completion_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	EmbeddingBatchSize  int           `mapstructure:"embedding_batch_size"`
	MaxRetries          int           `mapstructure:"max_retries"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return errors.New("openai.api_key required (OPENAI_API_KEY / TUBEWISE_OPENAI_API_KEY)")
	}
	if o.EmbeddingBatchSize <= 0 {
		return errors.New("openai.embedding_batch_size must be > 0")
	}
	return nil
}

// IngestConfig controls the transcript ingestion pipeline.
type IngestConfig struct {
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Concurrency  int    `mapstructure:"concurrency"`
	VideoRetries int    `mapstructure:"video_retries"`
	YtdlpPath    string `mapstructure:"ytdlp_path"`
}

func (i IngestConfig) Validate() error {
	if i.ChunkSize <= 0 {
		return errors.New("ingest.chunk_size must be > 0")
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return errors.New("ingest.chunk_overlap must be >= 0 and < chunk_size")
	}
	if i.Concurrency <= 0 {
		return errors.New("ingest.concurrency must be > 0")
	}
	return nil
}

// ChatConfig controls grounded chat retrieval.
type ChatConfig struct {
	TopK int `mapstructure:"top_k"`
}

// RefreshConfig controls the opportunistic channel metadata refresher.
type RefreshConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CronSpec string `mapstructure:"cron_spec"`
}

// LoadConfig loads config from file, falling back to defaults plus
// TUBEWISE_* environment overrides when no file is present.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":8000")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.completion_model", "o3-mini")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("openai.embedding_dimensions", 1536)
	viper.SetDefault("openai.embedding_batch_size", 64)
	viper.SetDefault("openai.max_retries", 3)
	viper.SetDefault("openai.temperature", 0.7)
	viper.SetDefault("openai.max_tokens", 1000)
	viper.SetDefault("openai.timeout", 30*time.Second)
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 200)
	viper.SetDefault("ingest.concurrency", 3)
	viper.SetDefault("ingest.video_retries", 2)
	viper.SetDefault("ingest.ytdlp_path", "yt-dlp")
	viper.SetDefault("chat.top_k", 5)
	viper.SetDefault("refresh.enabled", false)
	viper.SetDefault("refresh.cron_spec", "@daily")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TUBEWISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	return &config
}
