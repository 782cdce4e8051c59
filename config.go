package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingToken is returned when a Slack token is not configured
	ErrMissingToken = errors.New("missing slack token")

	// ErrMissingChannel is returned when the parent channel is not configured
	ErrMissingChannel = errors.New("missing parent channel")

	// ErrInvalidConfig wraps any other validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

const defaultConfigFile = "config.yaml"

// Config holds the bot configuration. Precedence, lowest first: defaults,
// YAML file, environment, command line flags.
type Config struct {
	BotToken         string        `yaml:"bot_token"`
	AppToken         string        `yaml:"app_token"`
	ParentChannelID  string        `yaml:"parent_channel_id"`
	Timezone         string        `yaml:"timezone"`
	ReportSchedule   string        `yaml:"report_schedule"`
	StateDir         string        `yaml:"state_dir"`
	RetentionDays    int           `yaml:"retention_days"`
	ThreadExpiryDays int           `yaml:"thread_expiry_days"`
	PageSize         int           `yaml:"page_size"`
	RequestDelay     time.Duration `yaml:"request_delay"`
	LogLevel         string        `yaml:"log_level"`
	Debug            bool          `yaml:"debug"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		Timezone:         "Local",
		ReportSchedule:   DefaultReportSchedule,
		StateDir:         ".",
		RetentionDays:    30,
		ThreadExpiryDays: 7,
		PageSize:         DefaultPageSize,
		RequestDelay:     300 * time.Millisecond,
		LogLevel:         "info",
	}
}

// LoadConfig merges defaults, the YAML file and environment variables.
// An empty path falls back to ./config.yaml when it exists; an explicit
// path that cannot be read is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if filePath := resolveConfigPath(path); filePath != "" {
		fileCfg, err := loadConfigFile(filePath)
		if err != nil {
			return nil, err
		}
		cfg.merge(fileCfg)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the environment.
// Variables already set in the environment are kept. A missing default
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		if !fileExists(".env") {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// merge copies every non-zero field of override into c
func (c *Config) merge(override *Config) {
	if override.BotToken != "" {
		c.BotToken = override.BotToken
	}
	if override.AppToken != "" {
		c.AppToken = override.AppToken
	}
	if override.ParentChannelID != "" {
		c.ParentChannelID = override.ParentChannelID
	}
	if override.Timezone != "" {
		c.Timezone = override.Timezone
	}
	if override.ReportSchedule != "" {
		c.ReportSchedule = override.ReportSchedule
	}
	if override.StateDir != "" {
		c.StateDir = override.StateDir
	}
	if override.RetentionDays > 0 {
		c.RetentionDays = override.RetentionDays
	}
	if override.ThreadExpiryDays > 0 {
		c.ThreadExpiryDays = override.ThreadExpiryDays
	}
	if override.PageSize > 0 {
		c.PageSize = override.PageSize
	}
	if override.RequestDelay > 0 {
		c.RequestDelay = override.RequestDelay
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Debug {
		c.Debug = true
	}
}

// applyEnv applies environment variable overrides
func (c *Config) applyEnv() {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.AppToken = v
	}
	if v := os.Getenv("PARENT_CHANNEL_ID"); v != "" {
		c.ParentChannelID = v
	}
	if v := os.Getenv("TALLY_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("TALLY_REPORT_SCHEDULE"); v != "" {
		c.ReportSchedule = v
	}
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Validate checks the merged configuration
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("%w: SLACK_BOT_TOKEN must be set", ErrMissingToken)
	}
	if c.AppToken == "" {
		return fmt.Errorf("%w: SLACK_APP_TOKEN must be set for Socket Mode", ErrMissingToken)
	}
	if !strings.HasPrefix(c.AppToken, "xapp-") {
		return fmt.Errorf("%w: app token must start with xapp-", ErrInvalidConfig)
	}
	if c.ParentChannelID == "" {
		return fmt.Errorf("%w: PARENT_CHANNEL_ID must be set", ErrMissingChannel)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.ReportSchedule); err != nil {
		return fmt.Errorf("%w: report schedule %q: %v", ErrInvalidConfig, c.ReportSchedule, err)
	}
	if c.ThreadExpiryDays <= 0 {
		return fmt.Errorf("%w: thread expiry must be positive", ErrInvalidConfig)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("%w: retention must be positive", ErrInvalidConfig)
	}
	if c.PageSize <= 0 || c.PageSize > 1000 {
		return fmt.Errorf("%w: page size must be between 1 and 1000", ErrInvalidConfig)
	}
	if c.RequestDelay <= 0 {
		return fmt.Errorf("%w: request delay must be positive", ErrInvalidConfig)
	}
	return nil
}

// Location resolves the configured timezone used for day keys and the schedule
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
