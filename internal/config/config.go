package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	FinMind struct {
		Token     string `yaml:"token"`
		BaseURL   string `yaml:"base_url"`
		UsageURL  string `yaml:"usage_url"`
		StartDate string `yaml:"start_date"`
	} `yaml:"finmind"`
	Yahoo struct {
		BaseURL string `yaml:"base_url"`
		Period  string `yaml:"period"`
	} `yaml:"yahoo"`
	Database struct {
		Driver     string `yaml:"driver"`
		DSN        string `yaml:"dsn"`
		SQLitePath string `yaml:"sqlite_path"`
		MaxConns   int    `yaml:"max_conns"`
		BatchSize  int    `yaml:"batch_size"`
		ViaBouncer bool   `yaml:"via_bouncer"`
	} `yaml:"database"`
	Index struct {
		Path string `yaml:"path"`
	} `yaml:"index"`
	Limits struct {
		YahooDelay         DelayRange    `yaml:"yahoo_delay"`
		FinMindDelay       DelayRange    `yaml:"finmind_delay"`
		AnonymousDelay     DelayRange    `yaml:"anonymous_delay"`
		BackoffUnit        time.Duration `yaml:"backoff_unit"`
		MaxRetries         int           `yaml:"max_retries"`
		DatasetFailLimit   int           `yaml:"dataset_fail_limit"`
		ConsecutiveFailMax int           `yaml:"consecutive_fail_max"`
		Budget             *int          `yaml:"budget"`
	} `yaml:"limits"`
	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
	Dashboard struct {
		Addr string `yaml:"addr"`
	} `yaml:"dashboard"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// DelayRange is a pacing interval in YAML form, e.g. {min: 800ms, max: 1.5s}.
type DelayRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Load reads config from a YAML file, then the .env file, then applies
// environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FINMIND_TOKEN"); v != "" {
		c.FinMind.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	// SUPABASE_URL wins over DATABASE_URL when both are set.
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("SCAN_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCAN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.Budget = &n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.FinMind.StartDate == "" {
		c.FinMind.StartDate = "2020-01-01"
	}
	if c.Yahoo.Period == "" {
		c.Yahoo.Period = "3y"
	}
	if c.Database.Driver == "" {
		if c.Database.DSN != "" {
			c.Database.Driver = "postgres"
		} else {
			c.Database.Driver = "sqlite"
		}
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/market.db"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 4
	}
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = 1000
	}
	if c.Index.Path == "" {
		c.Index.Path = "data/scan_index.db"
	}
	if c.Limits.YahooDelay == (DelayRange{}) {
		c.Limits.YahooDelay = DelayRange{Min: 800 * time.Millisecond, Max: 1500 * time.Millisecond}
	}
	if c.Limits.FinMindDelay == (DelayRange{}) {
		c.Limits.FinMindDelay = DelayRange{Min: 1500 * time.Millisecond, Max: 2500 * time.Millisecond}
	}
	if c.Limits.AnonymousDelay == (DelayRange{}) {
		c.Limits.AnonymousDelay = DelayRange{Min: 4 * time.Second, Max: 6 * time.Second}
	}
	if c.Limits.BackoffUnit == 0 {
		c.Limits.BackoffUnit = 10 * time.Second
	}
	if c.Limits.MaxRetries == 0 {
		c.Limits.MaxRetries = 3
	}
	if c.Limits.DatasetFailLimit == 0 {
		c.Limits.DatasetFailLimit = 5
	}
	if c.Limits.ConsecutiveFailMax == 0 {
		c.Limits.ConsecutiveFailMax = 10
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 0 * * * *"
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":8050"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "logs/scanner.log"
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if _, err := time.Parse("2006-01-02", c.FinMind.StartDate); err != nil {
		return fmt.Errorf("finmind.start_date: %w", err)
	}
	for name, d := range map[string]DelayRange{
		"yahoo_delay":     c.Limits.YahooDelay,
		"finmind_delay":   c.Limits.FinMindDelay,
		"anonymous_delay": c.Limits.AnonymousDelay,
	} {
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("limits.%s: min %s must not exceed max %s", name, d.Min, d.Max)
		}
	}
	if c.Limits.MaxRetries < 1 {
		return fmt.Errorf("limits.max_retries must be at least 1")
	}
	if c.Limits.Budget != nil && *c.Limits.Budget < 0 {
		return fmt.Errorf("limits.budget must not be negative")
	}
	if c.Limits.DatasetFailLimit < 1 || c.Limits.ConsecutiveFailMax < 1 {
		return fmt.Errorf("limits failure thresholds must be positive")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// TelegramEnabled reports whether notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
