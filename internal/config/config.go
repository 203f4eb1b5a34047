// Package config loads the service configuration from YAML with
// environment variable overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Sequences  SequencesConfig  `yaml:"sequences"`
	Campaigns  CampaignsConfig  `yaml:"campaigns"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection for rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials and the sender identity.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// TwilioConfig holds Twilio credentials and the sending number.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

// DispatcherConfig tunes the dispatch worker pool.
type DispatcherConfig struct {
	Workers             int `yaml:"workers"`
	BatchSize           int `yaml:"batch_size"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	MaxAttempts         int `yaml:"max_attempts"`
	BackoffBaseSeconds  int `yaml:"backoff_base_seconds"`
	BackoffMaxMinutes   int `yaml:"backoff_max_minutes"`
	SendTimeoutSeconds  int `yaml:"send_timeout_seconds"`
	EmailPerSecond      int `yaml:"email_per_second"`
	EmailPerMinute      int `yaml:"email_per_minute"`
	SMSPerSecond        int `yaml:"sms_per_second"`
	SMSPerMinute        int `yaml:"sms_per_minute"`
}

// SequencesConfig tunes the sequence engine ticker.
type SequencesConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
}

// CampaignsConfig tunes the campaign batch sender.
type CampaignsConfig struct {
	MaxRecipients int `yaml:"max_recipients"`
}

// PollInterval returns the dispatcher poll interval as a Duration.
func (d DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// BackoffBase returns the first retry delay as a Duration.
func (d DispatcherConfig) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay cap as a Duration.
func (d DispatcherConfig) BackoffMax() time.Duration {
	return time.Duration(d.BackoffMaxMinutes) * time.Minute
}

// SendTimeout returns the per-provider-call timeout as a Duration.
func (d DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(d.SendTimeoutSeconds) * time.Second
}

// TickInterval returns the sequence ticker interval as a Duration.
func (s SequencesConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 50
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 5
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = 3
	}
	if cfg.Dispatcher.BackoffBaseSeconds == 0 {
		cfg.Dispatcher.BackoffBaseSeconds = 60
	}
	if cfg.Dispatcher.BackoffMaxMinutes == 0 {
		cfg.Dispatcher.BackoffMaxMinutes = 30
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 30
	}
	if cfg.Dispatcher.EmailPerSecond == 0 {
		cfg.Dispatcher.EmailPerSecond = 50
	}
	if cfg.Dispatcher.EmailPerMinute == 0 {
		cfg.Dispatcher.EmailPerMinute = 2500
	}
	if cfg.Dispatcher.SMSPerSecond == 0 {
		cfg.Dispatcher.SMSPerSecond = 10
	}
	if cfg.Dispatcher.SMSPerMinute == 0 {
		cfg.Dispatcher.SMSPerMinute = 300
	}
	if cfg.Sequences.TickIntervalSeconds == 0 {
		cfg.Sequences.TickIntervalSeconds = 60
	}
	if cfg.Campaigns.MaxRecipients == 0 {
		cfg.Campaigns.MaxRecipients = 500
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first (if present) so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("SES_FROM_NAME"); v != "" {
		cfg.SES.FromName = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.Twilio.FromNumber = v
	}

	return cfg, nil
}
