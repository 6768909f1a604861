package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir      = ".agentsync"
	ConfigFileName = "config.yaml"
	LedgerFileName = "ledger.gob"
	PIDFileName    = "watch.pid"
	LogFileName    = "watch.log"
)

type Config struct {
	Version int           `yaml:"version"`
	API     APIConfig     `yaml:"api"`
	Project ProjectConfig `yaml:"project"`
	Watch   WatchConfig   `yaml:"watch"`
	Upload  UploadConfig  `yaml:"upload"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Chat    ChatConfig    `yaml:"chat"`
	Ignore  []string      `yaml:"ignore"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKey is normally left empty here and provided via the
	// AGENTSYNC_API_KEY or CUSTOMGPT_API_KEY environment variable.
	APIKey         string `yaml:"api_key,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ProjectConfig struct {
	ID string `yaml:"id"`
}

type WatchConfig struct {
	DebounceMs int   `yaml:"debounce_ms"`
	Recursive  *bool `yaml:"recursive,omitempty"`
}

// IsRecursive returns the configured recursion setting, defaulting to true
// when the field is absent from the config file.
func (w *WatchConfig) IsRecursive() bool {
	if w.Recursive == nil {
		return true
	}
	return *w.Recursive
}

type UploadConfig struct {
	Workers          int `yaml:"workers"`
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

type LedgerConfig struct {
	Backend  string         `yaml:"backend"` // gob | postgres
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ChatConfig struct {
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`
}

func DefaultConfig() *Config {
	recursive := true
	return &Config{
		Version: 1,
		API: APIConfig{
			TimeoutSeconds: 60,
		},
		Watch: WatchConfig{
			DebounceMs: 500,
			Recursive:  &recursive,
		},
		Upload: UploadConfig{
			Workers:          4,
			MaxAttempts:      3,
			InitialBackoffMs: 1000,
		},
		Ledger: LedgerConfig{
			Backend: "gob",
		},
		Chat: ChatConfig{
			ReadTimeoutSeconds: 90,
		},
		Ignore: []string{
			".git",
			".agentsync",
			"node_modules",
			"vendor",
			"bin",
			"dist",
			"__pycache__",
			".venv",
			"venv",
			".idea",
			".vscode",
			"target",
		},
	}
}

func GetConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ConfigDir)
}

func GetConfigPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), ConfigFileName)
}

func GetLedgerPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), LedgerFileName)
}

func GetPIDPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), PIDFileName)
}

func GetLogPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), LogFileName)
}

func Load(projectRoot string) (*Config, error) {
	configPath := GetConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing values (backward compatibility)
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration values so older config files
// keep working when new fields are added.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaults.API.TimeoutSeconds
	}

	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = defaults.Watch.DebounceMs
	}

	if c.Upload.Workers <= 0 {
		c.Upload.Workers = defaults.Upload.Workers
	}
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = defaults.Upload.MaxAttempts
	}
	if c.Upload.InitialBackoffMs <= 0 {
		c.Upload.InitialBackoffMs = defaults.Upload.InitialBackoffMs
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = defaults.Ledger.Backend
	}

	if c.Chat.ReadTimeoutSeconds <= 0 {
		c.Chat.ReadTimeoutSeconds = defaults.Chat.ReadTimeoutSeconds
	}
}

func (c *Config) Save(projectRoot string) error {
	configDir := GetConfigDir(projectRoot)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := GetConfigPath(projectRoot)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func Exists(projectRoot string) bool {
	configPath := GetConfigPath(projectRoot)
	_, err := os.Stat(configPath)
	return err == nil
}

// FindProjectRoot walks up from the current directory until it finds a
// .agentsync/config.yaml.
func FindProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	// Resolve symlinks to handle symlinked directories
	cwd, err = filepath.EvalSymlinks(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	dir := cwd
	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no agentsync project found (run 'agentsync init' first)")
}
