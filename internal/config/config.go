package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the telemetry subsystem.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Mailbox    MailboxConfig    `yaml:"mailbox"`
	Reputation ReputationConfig `yaml:"reputation"`
	Training   TrainingConfig   `yaml:"training"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Export     ExportConfig     `yaml:"export"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings for scheduler state, run locks
// and the suppression hot-path cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds the webhook receiver HTTP settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// MailboxConfig holds polling behavior for bounce mailboxes.
type MailboxConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	ProcessedFolder string `yaml:"processed_folder"`
	MaxMessages     int    `yaml:"max_messages"`
	SecretKey       string `yaml:"secret_key"` // hex AES-256 key for credential secrets
}

// Timeout returns the mailbox dial/IO timeout as a duration.
func (c MailboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReputationConfig holds scoring thresholds. The score bands are configuration,
// not algorithm constants.
type ReputationConfig struct {
	WindowDays      int     `yaml:"window_days"`
	LowRiskScore    float64 `yaml:"low_risk_score"`
	MediumRiskScore float64 `yaml:"medium_risk_score"`
	NeutralScore    float64 `yaml:"neutral_score"`
}

// TrainingConfig holds sender-limit training parameters for both policies.
type TrainingConfig struct {
	Policy             string  `yaml:"policy"` // "automatic" or "manual"
	MinLimit           int     `yaml:"min_limit"`
	MaxLimit           int     `yaml:"max_limit"`
	DefaultLimit       int     `yaml:"default_limit"`
	MinSentThreshold   int64   `yaml:"min_sent_threshold"`
	StartLimit         int     `yaml:"start_limit"`
	IncreasePercentage float64 `yaml:"increase_percentage"`
	IntervalDays       int     `yaml:"interval_days"`
}

// SchedulerConfig holds sweep cadence and run-lock settings.
type SchedulerConfig struct {
	IntervalHours  int `yaml:"interval_hours"`
	LockTTLMinutes int `yaml:"lock_ttl_minutes"`
}

// Interval returns the per-entity due interval.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// LockTTL returns the run-lock TTL.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// ExportConfig holds suppression export output settings.
type ExportConfig struct {
	Dir       string `yaml:"dir"`
	Delimiter string `yaml:"delimiter"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Mailbox.TimeoutSeconds == 0 {
		c.Mailbox.TimeoutSeconds = 30
	}
	if c.Mailbox.ProcessedFolder == "" {
		c.Mailbox.ProcessedFolder = "Processed"
	}
	if c.Mailbox.MaxMessages == 0 {
		c.Mailbox.MaxMessages = 500
	}
	if c.Reputation.WindowDays == 0 {
		c.Reputation.WindowDays = 7
	}
	if c.Reputation.LowRiskScore == 0 {
		c.Reputation.LowRiskScore = 80
	}
	if c.Reputation.MediumRiskScore == 0 {
		c.Reputation.MediumRiskScore = 50
	}
	if c.Reputation.NeutralScore == 0 {
		c.Reputation.NeutralScore = 75
	}
	if c.Training.Policy == "" {
		c.Training.Policy = "automatic"
	}
	if c.Training.MinLimit == 0 {
		c.Training.MinLimit = 50
	}
	if c.Training.MaxLimit == 0 {
		c.Training.MaxLimit = 100000
	}
	if c.Training.DefaultLimit == 0 {
		c.Training.DefaultLimit = 500
	}
	if c.Training.MinSentThreshold == 0 {
		c.Training.MinSentThreshold = 1000
	}
	if c.Training.StartLimit == 0 {
		c.Training.StartLimit = 50
	}
	if c.Training.IncreasePercentage == 0 {
		c.Training.IncreasePercentage = 10
	}
	if c.Training.IntervalDays == 0 {
		c.Training.IntervalDays = 2
	}
	if c.Scheduler.IntervalHours == 0 {
		c.Scheduler.IntervalHours = 24
	}
	if c.Scheduler.LockTTLMinutes == 0 {
		c.Scheduler.LockTTLMinutes = 30
	}
	if c.Export.Dir == "" {
		c.Export.Dir = os.TempDir()
	}
	if c.Export.Delimiter == "" {
		c.Export.Delimiter = ","
	}
}

// Validate rejects combinations the training controller cannot run with.
// A bad threshold set is fatal for the one operation that needs it, so this
// is called by the controller, not at load time.
func (c TrainingConfig) Validate() error {
	if c.Policy != "automatic" && c.Policy != "manual" {
		return fmt.Errorf("unknown training policy %q", c.Policy)
	}
	if c.MinLimit < 0 || c.MaxLimit < c.MinLimit {
		return fmt.Errorf("invalid limit bounds [%d, %d]", c.MinLimit, c.MaxLimit)
	}
	if c.Policy == "manual" {
		if c.IntervalDays <= 0 {
			return fmt.Errorf("manual policy requires interval_days > 0")
		}
		if c.IncreasePercentage <= 0 {
			return fmt.Errorf("manual policy requires increase_percentage > 0")
		}
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on the deployment host.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
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
	if v := os.Getenv("MAILBOX_SECRET_KEY"); v != "" {
		cfg.Mailbox.SecretKey = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	return cfg, nil
}

// Reload re-reads the configuration from disk. Components hold a *Config and
// callers swap the values in place of lazy caches.
func (c *Config) Reload(path string) error {
	next, err := LoadFromEnv(path)
	if err != nil {
		return err
	}
	*c = *next
	return nil
}
