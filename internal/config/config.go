package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Rates     RatesConfig     `yaml:"rates"`
	Wallet    WalletConfig    `yaml:"wallet"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// RatesConfig points at the external exchange-rate provider.
type RatesConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the provider call timeout.
func (r RatesConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// WalletConfig holds the default period limits for new wallets,
// denominated in the wallet's own currency units.
type WalletConfig struct {
	DailyLimit    string `yaml:"daily_limit"`
	MonthlyLimit  string `yaml:"monthly_limit"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if secret := os.Getenv("KYC_WEBHOOK_SECRET"); secret != "" {
		cfg.Wallet.WebhookSecret = secret
	}
	if cfg.Rates.TimeoutSeconds == 0 {
		cfg.Rates.TimeoutSeconds = 10
	}
	return &cfg, nil
}
