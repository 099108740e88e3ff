// Package config loads conductor's layered application configuration:
// defaults, then an optional YAML file, then CONDUCTOR_-prefixed
// environment variables, then explicit CLI flag overrides, in that
// order of increasing precedence, via github.com/spf13/viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/harrison/conductor/internal/models"
)

// DatabaseConfig controls the Store's SQLite connection.
type DatabaseConfig struct {
	// Path is the SQLite database file. Defaults to .conductor/conductor.db
	// relative to the working directory.
	Path string `mapstructure:"path"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	PoolWaitTimeout time.Duration `mapstructure:"pool_wait_timeout"`
}

// QueenConfig controls the orchestrator's scheduling loop
// (spec §4.5 State).
type QueenConfig struct {
	// MaxParallelPerRole caps concurrently active workers per role; roles
	// not present here fall back to 2.
	MaxParallelPerRole map[string]int `mapstructure:"max_parallel_per_role"`

	TaskRetryLimit         int           `mapstructure:"task_retry_limit"`
	StatusRefreshInterval  time.Duration `mapstructure:"status_refresh_interval"`
	ZombieDetectionMinutes int           `mapstructure:"zombie_detection_minutes"`

	// SimpleMode mirrors the original's HIVE_SIMPLE_MODE degradation path:
	// disables the cooperative/async monitor variant regardless of --async.
	SimpleMode bool `mapstructure:"simple_mode"`
}

// WorkerConfig controls subprocess workspace and agent-binary discovery
// (spec §4.3).
type WorkerConfig struct {
	WorkspacesRoot  string `mapstructure:"workspaces_root"`
	AgentBinaryPath string `mapstructure:"agent_binary_path"`
	AgentBinaryName string `mapstructure:"agent_binary_name"`
	RunLogDir       string `mapstructure:"run_log_dir"`
}

// ConsoleConfig controls terminal output formatting.
type ConsoleConfig struct {
	EnableColor bool `mapstructure:"enable_color"`
}

// Config is the complete conductor configuration tree.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Queen    QueenConfig    `mapstructure:"queen"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Console  ConsoleConfig  `mapstructure:"console"`

	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            filepath.Join(".conductor", "conductor.db"),
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			PoolWaitTimeout: 30 * time.Second,
		},
		Queen: QueenConfig{
			MaxParallelPerRole: map[string]int{
				models.WorkerRoleBackend:  2,
				models.WorkerRoleFrontend: 2,
				models.WorkerRoleInfra:    2,
			},
			TaskRetryLimit:         2,
			StatusRefreshInterval:  10 * time.Second,
			ZombieDetectionMinutes: 5,
			SimpleMode:             false,
		},
		Worker: WorkerConfig{
			WorkspacesRoot:  filepath.Join(".conductor", "workspaces"),
			AgentBinaryPath: "",
			AgentBinaryName: "claude",
			RunLogDir:       filepath.Join(".conductor", "logs"),
		},
		Console: ConsoleConfig{EnableColor: true},
		LogLevel: "info",
		LogDir:   filepath.Join(".conductor", "logs"),
	}
}

// SetDefaults registers every default value with viper so that Load's
// Unmarshal call has something to fall back to for keys absent from both
// the config file and the environment.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.pool_wait_timeout", d.Database.PoolWaitTimeout)

	v.SetDefault("queen.max_parallel_per_role", d.Queen.MaxParallelPerRole)
	v.SetDefault("queen.task_retry_limit", d.Queen.TaskRetryLimit)
	v.SetDefault("queen.status_refresh_interval", d.Queen.StatusRefreshInterval)
	v.SetDefault("queen.zombie_detection_minutes", d.Queen.ZombieDetectionMinutes)
	v.SetDefault("queen.simple_mode", d.Queen.SimpleMode)

	v.SetDefault("worker.workspaces_root", d.Worker.WorkspacesRoot)
	v.SetDefault("worker.agent_binary_path", d.Worker.AgentBinaryPath)
	v.SetDefault("worker.agent_binary_name", d.Worker.AgentBinaryName)
	v.SetDefault("worker.run_log_dir", d.Worker.RunLogDir)

	v.SetDefault("console.enable_color", d.Console.EnableColor)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_dir", d.LogDir)
}

// New builds a viper instance layered flags(caller's responsibility) > env
// > file > defaults, and searches for a config file the same way as
// cfgFile when non-empty, or ./.conductor/config.yaml and
// $HOME/.conductor/config.yaml otherwise.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".conductor")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".conductor"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration for values the rest of the
// system cannot recover from at runtime.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.Queen.TaskRetryLimit < 0 {
		return fmt.Errorf("queen.task_retry_limit must be >= 0, got %d", c.Queen.TaskRetryLimit)
	}
	if c.Queen.ZombieDetectionMinutes <= 0 {
		return fmt.Errorf("queen.zombie_detection_minutes must be > 0, got %d", c.Queen.ZombieDetectionMinutes)
	}
	for role, cap := range c.Queen.MaxParallelPerRole {
		if cap < 0 {
			return fmt.Errorf("queen.max_parallel_per_role[%s] must be >= 0, got %d", role, cap)
		}
	}
	return nil
}
