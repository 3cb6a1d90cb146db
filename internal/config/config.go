package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Synthesizer SynthesizerConfig `mapstructure:"synthesizer"`
	Render      RenderConfig      `mapstructure:"render"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Log         LogConfig         `mapstructure:"log"`
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
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// StorageConfig configures the S3-compatible archive of rendered page snapshots.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // s3, r2, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// SynthesizerConfig configures the OpenAI-compatible schema synthesis endpoint.
type SynthesizerConfig struct {
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RenderConfig struct {
	Mode         string        `mapstructure:"mode"` // http, browser
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	RemoteURL    string        `mapstructure:"remote_url"` // external Chrome DevTools endpoint
	Stealth      bool          `mapstructure:"stealth"`
}

type SchedulerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	Workers                int           `mapstructure:"workers"`
	ExecutionTimeout       time.Duration `mapstructure:"execution_timeout"`
	RetryCount             int           `mapstructure:"retry_count"`
	RetryBackoff           time.Duration `mapstructure:"retry_backoff"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	MaxPages               int           `mapstructure:"max_pages"`
	DueBatchSize           int           `mapstructure:"due_batch_size"`
	CompletionBuffer       int           `mapstructure:"completion_buffer"`
	ClaimTTL               time.Duration `mapstructure:"claim_ttl"`
}

type RateLimitConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Limit         int           `mapstructure:"limit"`
	MaxIdentities int           `mapstructure:"max_identities"`
}

type NotifyConfig struct {
	BatchSamples int            `mapstructure:"batch_samples"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	SMTP         SMTPConfig     `mapstructure:"smtp"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIURL   string `mapstructure:"api_url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
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

	// Secrets are usually injected by the platform under conventional names.
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("synthesizer.api_key", "OPENAI_API_KEY")
	v.BindEnv("synthesizer.base_url", "OPENAI_BASE_URL")
	v.BindEnv("synthesizer.model", "SYNTHESIZER_MODEL")
	v.BindEnv("notify.telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("notify.smtp.password", "SMTP_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/scrapewatch.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "scrapewatch-snapshots")
	v.SetDefault("storage.prefix", "snapshots")

	v.SetDefault("synthesizer.model", "gpt-4o-mini")
	v.SetDefault("synthesizer.base_url", "https://api.openai.com/v1")
	v.SetDefault("synthesizer.max_tokens", 1200)
	v.SetDefault("synthesizer.timeout", 60*time.Second)

	v.SetDefault("render.mode", "http")
	v.SetDefault("render.timeout", 30*time.Second)
	v.SetDefault("render.user_agent", "Mozilla/5.0 (compatible; ScrapeWatch/1.0)")
	v.SetDefault("render.max_body_bytes", 10<<20)
	v.SetDefault("render.stealth", true)

	v.SetDefault("scheduler.tick_interval", 30*time.Second)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.execution_timeout", 2*time.Minute)
	v.SetDefault("scheduler.retry_count", 2)
	v.SetDefault("scheduler.retry_backoff", 2*time.Second)
	v.SetDefault("scheduler.max_consecutive_failures", 0)
	v.SetDefault("scheduler.max_pages", 3)
	v.SetDefault("scheduler.due_batch_size", 100)
	v.SetDefault("scheduler.completion_buffer", 64)
	v.SetDefault("scheduler.claim_ttl", 30*time.Minute)

	v.SetDefault("ratelimit.interval", time.Minute)
	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.max_identities", 500)

	v.SetDefault("notify.batch_samples", 5)
	v.SetDefault("notify.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("notify.smtp.port", 587)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Render.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("unsupported render mode %q", c.Render.Mode)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.MaxIdentities <= 0 {
		return fmt.Errorf("ratelimit.limit and ratelimit.max_identities must be positive")
	}
	return nil
}
