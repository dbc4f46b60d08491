package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	FareWatch FareWatchConfig `yaml:"farewatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	BillingEventsTopicName   string `yaml:"billing_events_topic_name"`
	AlertDispatchedTopicName string `yaml:"alert_dispatched_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FareWatchConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	WatchlistsTTLSeconds int `yaml:"watchlists_ttl_seconds"`
	LastAlertTTLSeconds  int `yaml:"last_alert_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Worker cadence. A sweep goes over all active watchlists; cleanup removes
	// expired price cache rows on its own timer.
	WorkerSweepIntervalSeconds   int `yaml:"worker_sweep_interval_seconds"`
	WorkerCleanupIntervalSeconds int `yaml:"worker_cleanup_interval_seconds"`
	WorkerConcurrency            int `yaml:"worker_concurrency"`
	WorkerSearchRateLimitPerMin  int `yaml:"worker_search_rate_limit_per_minute"`

	DedupWindowHours   int `yaml:"dedup_window_hours"`
	PriceCacheTTLHours int `yaml:"price_cache_ttl_hours"`

	AmadeusBaseURL string `yaml:"amadeus_base_url"`
}

// Secrets come from the environment (optionally via .env), never from YAML.
// Missing provider credentials are not an error here: search degrades to
// synthetic offers and an unconfigured channel reports delivery failure.
type Secrets struct {
	AmadeusClientID     string `envconfig:"AMADEUS_CLIENT_ID"`
	AmadeusClientSecret string `envconfig:"AMADEUS_CLIENT_SECRET"`

	SendGridAPIKey    string `envconfig:"SENDGRID_API_KEY"`
	SendGridFromEmail string `envconfig:"SENDGRID_FROM_EMAIL" default:"alerts@farewatch.app"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// LoadSecrets reads provider credentials from .env (if present) and the
// environment. Real environment variables win over .env values (godotenv
// does not override already-set vars).
func LoadSecrets() (*Secrets, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &s, nil
}
