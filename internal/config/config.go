package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// RecoveryDefaults holds the harness-wide fallbacks for error recovery.
// Individual task specs override these per error class.
type RecoveryDefaults struct {
	MaxRetries        int     `json:"max_retries"`
	RetryDelayMS      int     `json:"retry_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	ElementWaitSecs   int     `json:"element_wait_seconds"`
	AssertionWaitSecs int     `json:"assertion_wait_seconds"`
}

// Config represents application configuration
type Config struct {
	DBPath        string           `json:"db_path"`
	TasksDir      string           `json:"tasks_dir"`
	SeedDir       string           `json:"seed_dir"`
	ErrorsDir     string           `json:"errors_dir"`
	ResultsDir    string           `json:"results_dir"`
	EnvAPIPort    int              `json:"env_api_port"`
	EnvAPIAddr    string           `json:"env_api_addr,omitempty"` // remote environment API, empty means in-process
	TaskTimeout   int              `json:"task_timeout_seconds"`
	PollInterval  int              `json:"poll_interval_ms"`
	LogLevel      string           `json:"log_level"` // debug, info, warn, error, none
	LogPath       string           `json:"log_path,omitempty"`
	StopOnFailure bool             `json:"stop_on_failure"`
	Recovery      RecoveryDefaults `json:"recovery"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DBPath:       "webtaskbench.db",
		TasksDir:     "tasks",
		SeedDir:      "seeds",
		ErrorsDir:    "errors",
		ResultsDir:   "results",
		EnvAPIPort:   8077,
		TaskTimeout:  300,
		PollInterval: 500,
		LogLevel:     "info",
		Recovery: RecoveryDefaults{
			MaxRetries:        3,
			RetryDelayMS:      1000,
			BackoffMultiplier: 2.0,
			ElementWaitSecs:   10,
			AssertionWaitSecs: 5,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return default config if file doesn't exist
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	// Ensure critical fields have defaults if still empty
	if config.DBPath == "" {
		config.DBPath = "webtaskbench.db"
	}
	if config.TasksDir == "" {
		config.TasksDir = "tasks"
	}
	if config.ErrorsDir == "" {
		config.ErrorsDir = "errors"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 300
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500
	}
	if config.Recovery.MaxRetries <= 0 {
		config.Recovery.MaxRetries = 3
	}
	if config.Recovery.RetryDelayMS <= 0 {
		config.Recovery.RetryDelayMS = 1000
	}
	if config.Recovery.BackoffMultiplier <= 0 {
		config.Recovery.BackoffMultiplier = 2.0
	}

	return config, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
