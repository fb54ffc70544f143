// Package config loads and validates linkscan configuration from config
// files and environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/linkscan/internal/lock"
	"github.com/jonesrussell/linkscan/internal/notify"
	"github.com/jonesrussell/linkscan/internal/proxy"
	"github.com/jonesrussell/linkscan/internal/remote"
	"github.com/jonesrussell/linkscan/internal/storage"
)

// Queue driver names.
const (
	QueueDriverScheduler = "scheduler"
	QueueDriverRedis     = "redis"
)

// ErrUnknownQueueDriver is returned for an unrecognized queue.driver value.
var ErrUnknownQueueDriver = errors.New("unknown queue driver")

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ScanConfig holds batch scan settings.
type ScanConfig struct {
	DatasetType       string   `mapstructure:"dataset_type"`
	ContentRoot       string   `mapstructure:"content_root"`
	SourcesFile       string   `mapstructure:"sources_file"`
	ResultsFile       string   `mapstructure:"results_file"`
	BatchSize         int      `mapstructure:"batch_size"`
	Mode              string   `mapstructure:"mode"`
	RetryStatuses     []int    `mapstructure:"retry_statuses"`
	Recipients        []string `mapstructure:"recipients"`
	RestWindowStart   int      `mapstructure:"rest_window_start"`
	RestWindowEnd     int      `mapstructure:"rest_window_end"`
	LinkDelayMS       int      `mapstructure:"link_delay_ms"`
	BatchDelaySeconds int      `mapstructure:"batch_delay_seconds"`
	LockTTLSeconds    int      `mapstructure:"lock_ttl_seconds"`
	LoadThreshold     float64  `mapstructure:"load_threshold"`
	TriggerHook       string   `mapstructure:"trigger_hook"`
	CronSchedule      string   `mapstructure:"cron_schedule"`
}

// HTTPConfig holds outbound transport settings.
type HTTPConfig struct {
	MaxAttempts    int      `mapstructure:"max_attempts"`
	InitialDelayMS int      `mapstructure:"initial_delay_ms"`
	MaxDelayMS     int      `mapstructure:"max_delay_ms"`
	UserAgents     []string `mapstructure:"user_agents"`
	HeadTimeout    float64  `mapstructure:"head_timeout"`
	GetTimeout     float64  `mapstructure:"get_timeout"`
}

// ProxyConfig holds proxy pool settings.
type ProxyConfig struct {
	Enabled          bool                `mapstructure:"enabled"`
	Entries          []proxy.Entry       `mapstructure:"entries"`
	Mappings         map[string][]string `mapstructure:"mappings"`
	Fallbacks        []string            `mapstructure:"fallbacks"`
	FailureThreshold int                 `mapstructure:"failure_threshold"`
	CooldownMinutes  int                 `mapstructure:"cooldown_minutes"`
}

// QueueConfig holds queue backend selection and settings.
type QueueConfig struct {
	Driver              string `mapstructure:"driver"`
	ListName            string `mapstructure:"list_name"`
	BlockTimeoutSeconds int    `mapstructure:"block_timeout_seconds"`
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	WebhookURL            string `mapstructure:"webhook_url"`
	WebhookThreshold      string `mapstructure:"webhook_threshold"`
	WebhookTemplate       string `mapstructure:"webhook_template"`
	EscalationEnabled     bool   `mapstructure:"escalation_enabled"`
	EscalationURL         string `mapstructure:"escalation_url"`
	EscalationThreshold   string `mapstructure:"escalation_threshold"`
	ThrottleWindowMinutes int    `mapstructure:"throttle_window_minutes"`
	HistoryMax            int    `mapstructure:"history_max"`
}

// Config is the root configuration.
type Config struct {
	App    AppConfig           `mapstructure:"app"`
	Logger LoggerConfig        `mapstructure:"logger"`
	Redis  storage.RedisConfig `mapstructure:"redis"`
	Scan   ScanConfig          `mapstructure:"scan"`
	HTTP   HTTPConfig          `mapstructure:"http"`
	Proxy  ProxyConfig         `mapstructure:"proxy"`
	Queue  QueueConfig         `mapstructure:"queue"`
	Notify NotifyConfig        `mapstructure:"notify"`
}

// Load unmarshals the viper state into a validated Config. InitializeViper
// must have been called first.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case QueueDriverScheduler, QueueDriverRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueueDriver, c.Queue.Driver)
	}

	if c.Queue.Driver == QueueDriverRedis && c.Redis.Address == "" {
		return storage.ErrEmptyAddress
	}
	return nil
}

// LockSettings maps scan config to preflight settings.
func (c *Config) LockSettings() lock.Settings {
	return lock.Settings{
		RestWindowStart:   c.Scan.RestWindowStart,
		RestWindowEnd:     c.Scan.RestWindowEnd,
		LinkDelayMS:       c.Scan.LinkDelayMS,
		BatchDelaySeconds: c.Scan.BatchDelaySeconds,
		LockTTLSeconds:    c.Scan.LockTTLSeconds,
		LoadThreshold:     c.Scan.LoadThreshold,
		TriggerHook:       c.Scan.TriggerHook,
		Debug:             c.App.Debug,
	}
}

// RemoteConfig maps HTTP config to the remote client configuration.
func (c *Config) RemoteConfig() remote.Config {
	cfg := remote.Config{
		MaxAttempts:  c.HTTP.MaxAttempts,
		InitialDelay: time.Duration(c.HTTP.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.HTTP.MaxDelayMS) * time.Millisecond,
		UserAgents:   c.HTTP.UserAgents,
	}
	if c.HTTP.HeadTimeout > 0 {
		cfg.HeadTimeout = remote.TimeoutConstraints{Default: c.HTTP.HeadTimeout, Min: 1, Max: 30}
	}
	if c.HTTP.GetTimeout > 0 {
		cfg.GetTimeout = remote.TimeoutConstraints{Default: c.HTTP.GetTimeout, Min: 1, Max: 60}
	}
	return cfg
}

// ProxyPoolConfig maps proxy config to the pool configuration.
func (c *Config) ProxyPoolConfig() proxy.Config {
	return proxy.Config{
		Entries: c.Proxy.Entries,
		Strategy: proxy.Strategy{
			Mappings:  c.Proxy.Mappings,
			Fallbacks: c.Proxy.Fallbacks,
		},
		FailureThreshold: c.Proxy.FailureThreshold,
		Cooldown:         time.Duration(c.Proxy.CooldownMinutes) * time.Minute,
	}
}

// NotifyManagerConfig maps notify config to the manager configuration.
func (c *Config) NotifyManagerConfig() notify.Config {
	return notify.Config{
		WebhookURL:          c.Notify.WebhookURL,
		WebhookThreshold:    c.Notify.WebhookThreshold,
		WebhookTemplate:     c.Notify.WebhookTemplate,
		EscalationEnabled:   c.Notify.EscalationEnabled,
		EscalationURL:       c.Notify.EscalationURL,
		EscalationThreshold: c.Notify.EscalationThreshold,
		ThrottleWindow:      time.Duration(c.Notify.ThrottleWindowMinutes) * time.Minute,
	}
}
