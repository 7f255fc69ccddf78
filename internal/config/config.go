package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Validator  ValidatorConfig  `mapstructure:"validator"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Suggestion SuggestionConfig `mapstructure:"suggestion"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Sources    SourcesConfig    `mapstructure:"sources"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeoutMs   int           `mapstructure:"busy_timeout_ms"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	busy := c.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", c.Path, busy)
}

// StorageConfig configures the object store used for cache exports and
// report archives. An empty Type disables exporting.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, minio
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

// Enabled reports whether an object store is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Type != "" && c.Bucket != ""
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai-compatible, anthropic
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ValidatorConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type CacheConfig struct {
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MaxImagesPerTopic int     `mapstructure:"max_images_per_topic"`
	ScanPageSize      int     `mapstructure:"scan_page_size"`
	RetentionDays     int     `mapstructure:"retention_days"`
	UsageFloor        int     `mapstructure:"usage_floor"`
	StatsWindowDays   int     `mapstructure:"stats_window_days"`
}

type SimilarityConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
	Limit         int     `mapstructure:"limit"`
}

type SuggestionConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint          `mapstructure:"breaker_failures"`
	BreakerDelay    time.Duration `mapstructure:"breaker_delay"`
}

type PipelineConfig struct {
	Workers          int           `mapstructure:"workers"`
	DocumentTimeout  time.Duration `mapstructure:"document_timeout"`
	RevalidateCached bool          `mapstructure:"revalidate_cached"`
}

type SourcesConfig struct {
	HTMLDir HTMLDirConfig `mapstructure:"htmldir"`
	Staging StagingConfig `mapstructure:"staging"`
}

type HTMLDirConfig struct {
	Path string `mapstructure:"path"`
}

type StagingConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// Load reads configuration from configPath (or ./configs/config.yaml, ./config.yaml),
// a .env file and the environment, in increasing priority.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// secrets and deployment endpoints
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "LLM_MODEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/image_cache.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.region", "")
	v.SetDefault("storage.prefix", "slidefix")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("validator.timeout", 3*time.Second)
	v.SetDefault("validator.max_concurrent", 10)
	v.SetDefault("validator.max_redirects", 5)
	v.SetDefault("validator.user_agent", "slidefix-image-validator/1.0")

	v.SetDefault("cache.min_confidence", 0.7)
	v.SetDefault("cache.max_images_per_topic", 3)
	v.SetDefault("cache.scan_page_size", 200)
	v.SetDefault("cache.retention_days", 30)
	v.SetDefault("cache.usage_floor", 5)
	v.SetDefault("cache.stats_window_days", 7)

	v.SetDefault("similarity.enabled", true)
	v.SetDefault("similarity.min_similarity", 0.6)
	v.SetDefault("similarity.limit", 5)

	v.SetDefault("suggestion.enabled", true)
	v.SetDefault("suggestion.max_attempts", 3)
	v.SetDefault("suggestion.rate_per_second", 2.0)
	v.SetDefault("suggestion.burst", 2)
	v.SetDefault("suggestion.breaker_failures", 5)
	v.SetDefault("suggestion.breaker_delay", 30*time.Second)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.document_timeout", 30*time.Second)
	v.SetDefault("pipeline.revalidate_cached", true)

	v.SetDefault("sources.htmldir.path", "./data/slides")
	v.SetDefault("sources.staging.base_path", "./data/staging")
}
