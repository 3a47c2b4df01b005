package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Execution     ExecutionConfig     `toml:"execution"`
	Sync          SyncConfig          `toml:"sync"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedules     []ScheduleConfig    `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	// LogDir is where per-run logs are written. It must never live inside
	// a workspace: agents recursively scan their workspace and would
	// otherwise grep their own growing transcript.
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// ExecutionConfig holds backend execution settings
type ExecutionConfig struct {
	Backend             string `toml:"backend"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	ShellTimeoutSeconds int    `toml:"shell_timeout_seconds"`
	Tools               string `toml:"tools"`
}

// SyncConfig holds workspace synchronization settings
type SyncConfig struct {
	Attempts     int `toml:"attempts"`
	DelaySeconds int `toml:"delay_seconds"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig describes one periodic run entry
type ScheduleConfig struct {
	Name       string `toml:"name"`
	Cron       string `toml:"cron"`
	Workspace  string `toml:"workspace"`
	Backend    string `toml:"backend"`
	PromptFile string `toml:"prompt_file"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			LogDir:       filepath.Join(home, ".cache", "agent-runloop", "logs"),
			DatabasePath: filepath.Join(home, ".agent-runloop", "runs.db"),
		},
		Execution: ExecutionConfig{
			TimeoutSeconds:      3000,
			ShellTimeoutSeconds: 120,
		},
		Sync: SyncConfig{
			Attempts:     3,
			DelaySeconds: 5,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.LogDir = ExpandPath(cfg.General.LogDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	for i := range cfg.Schedules {
		cfg.Schedules[i].Workspace = ExpandPath(cfg.Schedules[i].Workspace)
		cfg.Schedules[i].PromptFile = ExpandPath(cfg.Schedules[i].PromptFile)
	}

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agent-runloop", "config.toml")
}
