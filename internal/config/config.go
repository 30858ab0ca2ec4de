package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Mail drivers.
const (
	MailSMTP = "smtp"
	MailLog  = "log"
)

// Config holds all configuration for the application.
type Config struct {
	Port          string `yaml:"port"`
	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisURL      string `yaml:"redis_url"`
	NumWorkers    int    `yaml:"num_workers"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`

	ShopifyAPISecret string        `yaml:"shopify_api_secret"`
	WebhookDedupTTL  time.Duration `yaml:"webhook_dedup_ttl"`
	SQSQueueURL      string        `yaml:"sqs_queue_url"`
	SQSEndpoint      string        `yaml:"sqs_endpoint"`

	Mail MailConfig `yaml:"mail"`
}

// MailConfig configures the outbound mail capability.
type MailConfig struct {
	Driver            string        `yaml:"driver"`
	From              string        `yaml:"from"`
	SMTPHost          string        `yaml:"smtp_host"`
	SMTPPort          string        `yaml:"smtp_port"`
	SMTPUser          string        `yaml:"smtp_user"`
	SMTPPass          string        `yaml:"smtp_pass"`
	SendConcurrency   int           `yaml:"send_concurrency"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	SendRatePerSecond int           `yaml:"send_rate_per_second"`
}

func defaults() *Config {
	return &Config{
		Port:            "8080",
		StoreDriver:     DriverPostgres,
		SQLitePath:      "restock.db",
		NumWorkers:      8,
		PublicBaseURL:   "http://localhost:8080",
		MaxBodyBytes:    1 << 20,
		WebhookDedupTTL: 24 * time.Hour,
		Mail: MailConfig{
			Driver:            MailSMTP,
			SMTPPort:          "587",
			SendConcurrency:   10,
			SendTimeout:       15 * time.Second,
			SendRatePerSecond: 10,
		},
	}
}

// Load reads configuration from an optional .env file, an optional YAML file
// and environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.PublicBaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")
	cfg.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.ShopifyAPISecret = getEnv("SHOPIFY_API_SECRET", cfg.ShopifyAPISecret)
	cfg.WebhookDedupTTL = getEnvDuration("WEBHOOK_DEDUP_TTL", cfg.WebhookDedupTTL)
	cfg.SQSQueueURL = getEnv("SQS_QUEUE_URL", cfg.SQSQueueURL)
	cfg.SQSEndpoint = getEnv("SQS_ENDPOINT", cfg.SQSEndpoint)

	cfg.Mail.Driver = strings.ToLower(getEnv("MAIL_DRIVER", cfg.Mail.Driver))
	cfg.Mail.From = getEnv("MAIL_FROM", cfg.Mail.From)
	cfg.Mail.SMTPHost = getEnv("SMTP_HOST", cfg.Mail.SMTPHost)
	cfg.Mail.SMTPPort = getEnv("SMTP_PORT", cfg.Mail.SMTPPort)
	cfg.Mail.SMTPUser = getEnv("SMTP_USER", cfg.Mail.SMTPUser)
	cfg.Mail.SMTPPass = getEnv("SMTP_PASS", cfg.Mail.SMTPPass)
	cfg.Mail.SendConcurrency = getEnvInt("SEND_CONCURRENCY", cfg.Mail.SendConcurrency)
	cfg.Mail.SendTimeout = getEnvDuration("SEND_TIMEOUT", cfg.Mail.SendTimeout)
	cfg.Mail.SendRatePerSecond = getEnvInt("SEND_RATE_PER_SECOND", cfg.Mail.SendRatePerSecond)
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.ShopifyAPISecret == "" {
		return fmt.Errorf("SHOPIFY_API_SECRET is required")
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive")
	}

	switch c.Mail.Driver {
	case MailSMTP:
		if c.Mail.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("MAIL_FROM is required")
		}
	case MailLog:
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver)
	}
	if c.Mail.SendConcurrency <= 0 {
		return fmt.Errorf("SEND_CONCURRENCY must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
