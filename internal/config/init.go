package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitializeViper initializes viper from environment variables and config
// files. Must be called before Load.
func InitializeViper() {
	loadEnvFile()
	setupViper()
	setDefaults()
	readConfigFile()
}

// loadEnvFile loads .env (ignores a missing file).
func loadEnvFile() {
	_ = godotenv.Load()
}

// setupViper configures environment variable and config file reading.
func setupViper() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("LINKSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
}

// readConfigFile reads the config file (ignores a missing file).
func readConfigFile() {
	_ = viper.ReadInConfig()
}

// setDefaults sets production-safe defaults.
func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "linkscan",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"output_paths": []string{"stdout"},
	})

	viper.SetDefault("redis", map[string]any{
		"address": "localhost:6379",
		"db":      0,
	})

	viper.SetDefault("scan", map[string]any{
		"dataset_type":        "link",
		"sources_file":        "sources.json",
		"results_file":        "broken.jsonl",
		"batch_size":          100,
		"mode":                "precise",
		"retry_statuses":      []int{403, 420, 429, 503},
		"rest_window_start":   0,
		"rest_window_end":     0,
		"link_delay_ms":       200,
		"batch_delay_seconds": 60,
		"lock_ttl_seconds":    900,
		"load_threshold":      8.0,
		"trigger_hook":        "linkscan_batch",
		"cron_schedule":       "0 3 * * *",
	})

	viper.SetDefault("http", map[string]any{
		"max_attempts":     3,
		"initial_delay_ms": 500,
		"max_delay_ms":     30000,
		"head_timeout":     5,
		"get_timeout":      10,
	})

	viper.SetDefault("proxy", map[string]any{
		"enabled":           false,
		"failure_threshold": 3,
		"cooldown_minutes":  10,
	})

	viper.SetDefault("queue", map[string]any{
		"driver":                "scheduler",
		"list_name":             "linkscan:batches",
		"block_timeout_seconds": 5,
	})

	viper.SetDefault("notify", map[string]any{
		"webhook_threshold":       "warning",
		"escalation_threshold":    "critical",
		"throttle_window_minutes": 60,
		"history_max":             50,
	})
}
