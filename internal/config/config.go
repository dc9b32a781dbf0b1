package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// JanitorConfig controls the per-rule state sweep.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	StateTTL time.Duration `yaml:"state_ttl"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	MaxRetries   int           `yaml:"max_retries"`
	Backoff      time.Duration `yaml:"backoff"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	WebhookURLs  []string      `yaml:"webhook_urls"`
	Template     string        `yaml:"template"`
	KafkaBrokers []string      `yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
}

// IngestConfig controls the reading worker pool.
type IngestConfig struct {
	Workers         int           `yaml:"workers"`
	ShardQueue      int           `yaml:"shard_queue"`
	Timeout         time.Duration `yaml:"timeout"`
	RuleLoadTimeout time.Duration `yaml:"rule_load_timeout"`
}

// Config defines service configuration.
type Config struct {
	HTTPAddr       string             `yaml:"http_addr"`
	DatabaseURL    string             `yaml:"database_url"`
	Store          string             `yaml:"store"`
	JWTSecret      string             `yaml:"jwt_secret"`
	LogLevel       string             `yaml:"log_level"`
	AlertRetention int                `yaml:"alert_retention"`
	Janitor        JanitorConfig      `yaml:"janitor"`
	Notify         NotifyConfig       `yaml:"notify"`
	Ingest         IngestConfig       `yaml:"ingest"`
	Rules          []alerts.AlertRule `yaml:"rules"`
}

// Load reads configuration from the environment, then overlays the YAML file
// named by ALERTS_CONFIG when set.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		Store:          getenvDefault("ALERTS_STORE", StorePostgres),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		AlertRetention: getenvIntDefault("ALERTS_MEMORY_RETENTION", 10000),
		Janitor: JanitorConfig{
			Interval: getenvDuration("ALERTS_SWEEP_INTERVAL", 5*time.Minute),
			StateTTL: getenvDuration("ALERTS_STATE_TTL", 2*time.Hour),
		},
		Notify: NotifyConfig{
			QueueSize:    getenvIntDefault("ALERTS_NOTIFY_QUEUE_SIZE", 1024),
			Workers:      getenvIntDefault("ALERTS_NOTIFY_WORKERS", 4),
			MaxRetries:   getenvIntDefault("ALERTS_NOTIFY_MAX_RETRIES", 3),
			Backoff:      getenvDuration("ALERTS_NOTIFY_BACKOFF", 500*time.Millisecond),
			SendTimeout:  getenvDuration("ALERTS_NOTIFY_TIMEOUT", 10*time.Second),
			WebhookURLs:  splitCSV(getenvDefault("ALERTS_WEBHOOK_URLS", "")),
			Template:     getenvDefault("ALERTS_NOTIFY_TEMPLATE", ""),
			KafkaBrokers: splitCSV(getenvDefault("KAFKA_BROKERS", "")),
			KafkaTopic:   getenvDefault("KAFKA_ALERT_TOPIC", "greenhouse.alerts"),
		},
		Ingest: IngestConfig{
			Workers:         getenvIntDefault("INGEST_WORKERS", 8),
			ShardQueue:      getenvIntDefault("INGEST_SHARD_QUEUE", 256),
			Timeout:         getenvDuration("INGEST_TIMEOUT", 5*time.Second),
			RuleLoadTimeout: getenvDuration("INGEST_RULE_LOAD_TIMEOUT", 5*time.Second),
		},
	}

	if path := os.Getenv("ALERTS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail at first use.
func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.HTTPAddr == "" {
		return errors.New("config: http address required")
	}
	if c.Janitor.Interval <= 0 || c.Janitor.StateTTL <= 0 {
		return errors.New("config: janitor interval and state ttl must be positive")
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return errors.New("config: kafka topic required when brokers are set")
	}
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("config: rule %d: %w", i, err)
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
