package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"ctxlink/internal/paths"
)

// CurrentVersion is the config schema version written by Save
const CurrentVersion = 1

// Config represents the complete ctxlink configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version" yaml:"version" toml:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot" yaml:"repoRoot" toml:"repoRoot"`

	Correlation  CorrelationConfig  `json:"correlation" mapstructure:"correlation" yaml:"correlation" toml:"correlation"`
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation" yaml:"conversation" toml:"conversation"`
	Snapshot     SnapshotConfig     `json:"snapshot" mapstructure:"snapshot" yaml:"snapshot" toml:"snapshot"`
	Watcher      WatcherConfig      `json:"watcher" mapstructure:"watcher" yaml:"watcher" toml:"watcher"`
	Git          GitConfig          `json:"git" mapstructure:"git" yaml:"git" toml:"git"`
	Store        StoreConfig        `json:"store" mapstructure:"store" yaml:"store" toml:"store"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging" yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `json:"metrics" mapstructure:"metrics" yaml:"metrics" toml:"metrics"`
}

// CorrelationConfig holds the timing knobs of the correlation pipeline
type CorrelationConfig struct {
	PollIntervalMs    int `json:"pollIntervalMs" mapstructure:"pollIntervalMs" yaml:"pollIntervalMs" toml:"pollIntervalMs"`
	CompletionWaitMs  int `json:"completionWaitMs" mapstructure:"completionWaitMs" yaml:"completionWaitMs" toml:"completionWaitMs"`
	ChangeRetentionMs int `json:"changeRetentionMs" mapstructure:"changeRetentionMs" yaml:"changeRetentionMs" toml:"changeRetentionMs"`
	GracePeriodMs     int `json:"gracePeriodMs" mapstructure:"gracePeriodMs" yaml:"gracePeriodMs" toml:"gracePeriodMs"`
}

// ConversationConfig selects the external conversation store
type ConversationConfig struct {
	// Source is "sqlite" or "file"
	Source         string `json:"source" mapstructure:"source" yaml:"source" toml:"source"`
	Path           string `json:"path" mapstructure:"path" yaml:"path" toml:"path"`
	ConversationID string `json:"conversationId,omitempty" mapstructure:"conversationId" yaml:"conversationId,omitempty" toml:"conversationId,omitempty"`
}

// SnapshotConfig controls the branch snapshotter
type SnapshotConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	// Mode is "index" (private index, HEAD untouched) or "checkout"
	Mode         string `json:"mode" mapstructure:"mode" yaml:"mode" toml:"mode"`
	BranchPrefix string `json:"branchPrefix" mapstructure:"branchPrefix" yaml:"branchPrefix" toml:"branchPrefix"`
}

// WatcherConfig controls the filesystem watcher
type WatcherConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns" yaml:"ignorePatterns" toml:"ignorePatterns"`
}

// GitConfig contains Git backend configuration
type GitConfig struct {
	// TimeoutMs bounds each git invocation; 0 disables the timeout
	TimeoutMs int `json:"timeoutMs" mapstructure:"timeoutMs" yaml:"timeoutMs" toml:"timeoutMs"`
}

// StoreConfig locates the context database
type StoreConfig struct {
	// Path is relative to the repo root unless absolute; empty means .ctxlink/ctxlink.db
	Path string `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty" toml:"path,omitempty"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" yaml:"format" toml:"format"`
	Level  string `json:"level" mapstructure:"level" yaml:"level" toml:"level"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" mapstructure:"addr" yaml:"addr,omitempty" toml:"addr,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  CurrentVersion,
		RepoRoot: ".",
		Correlation: CorrelationConfig{
			PollIntervalMs:    5000,
			CompletionWaitMs:  30000,
			ChangeRetentionMs: 600000,
			GracePeriodMs:     60000,
		},
		Conversation: ConversationConfig{
			Source: "sqlite",
			Path:   filepath.Join(paths.MetaDirName, "conversations.db"),
		},
		Snapshot: SnapshotConfig{
			Enabled:      true,
			Mode:         "index",
			BranchPrefix: "ctxlink",
		},
		Watcher: WatcherConfig{
			Enabled: true,
			IgnorePatterns: []string{
				"*.log",
				"*.tmp",
				"*.swp",
				"__pycache__/**",
				"vendor/**",
			},
		},
		Git: GitConfig{
			TimeoutMs: 0,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .ctxlink/config.{json,yaml,toml}.
// Missing keys keep their defaults; CTXLINK_* environment variables override the file.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigName("config")
	v.AddConfigPath(paths.MetaDir(repoRoot))

	v.SetEnvPrefix("CTXLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.RepoRoot == "" || cfg.RepoRoot == "." {
		cfg.RepoRoot = repoRoot
	}

	return &cfg, nil
}

// setDefaults registers every leaf of d so viper can merge file, env and defaults
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("repoRoot", d.RepoRoot)
	v.SetDefault("correlation.pollIntervalMs", d.Correlation.PollIntervalMs)
	v.SetDefault("correlation.completionWaitMs", d.Correlation.CompletionWaitMs)
	v.SetDefault("correlation.changeRetentionMs", d.Correlation.ChangeRetentionMs)
	v.SetDefault("correlation.gracePeriodMs", d.Correlation.GracePeriodMs)
	v.SetDefault("conversation.source", d.Conversation.Source)
	v.SetDefault("conversation.path", d.Conversation.Path)
	v.SetDefault("conversation.conversationId", d.Conversation.ConversationID)
	v.SetDefault("snapshot.enabled", d.Snapshot.Enabled)
	v.SetDefault("snapshot.mode", d.Snapshot.Mode)
	v.SetDefault("snapshot.branchPrefix", d.Snapshot.BranchPrefix)
	v.SetDefault("watcher.enabled", d.Watcher.Enabled)
	v.SetDefault("watcher.ignorePatterns", d.Watcher.IgnorePatterns)
	v.SetDefault("git.timeoutMs", d.Git.TimeoutMs)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Save writes the configuration to .ctxlink/config.json
func (c *Config) Save(repoRoot string) error {
	if _, err := paths.EnsureMetaDir(repoRoot); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(paths.MetaDir(repoRoot), "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	durations := map[string]int{
		"correlation.pollIntervalMs":    c.Correlation.PollIntervalMs,
		"correlation.completionWaitMs":  c.Correlation.CompletionWaitMs,
		"correlation.changeRetentionMs": c.Correlation.ChangeRetentionMs,
	}
	for field, v := range durations {
		if v <= 0 {
			return &ConfigError{Field: field, Message: fmt.Sprintf("must be positive, got %d", v)}
		}
	}
	if c.Correlation.GracePeriodMs < 0 {
		return &ConfigError{Field: "correlation.gracePeriodMs", Message: "must not be negative"}
	}
	if c.Git.TimeoutMs < 0 {
		return &ConfigError{Field: "git.timeoutMs", Message: "must not be negative"}
	}

	switch c.Conversation.Source {
	case "sqlite", "file":
	default:
		return &ConfigError{Field: "conversation.source", Message: "must be 'sqlite' or 'file'"}
	}
	if c.Conversation.Path == "" {
		return &ConfigError{Field: "conversation.path", Message: "is required"}
	}

	switch c.Snapshot.Mode {
	case "index", "checkout":
	default:
		return &ConfigError{Field: "snapshot.mode", Message: "must be 'index' or 'checkout'"}
	}
	if c.Snapshot.Enabled && strings.TrimSpace(c.Snapshot.BranchPrefix) == "" {
		return &ConfigError{Field: "snapshot.branchPrefix", Message: "is required when snapshots are enabled"}
	}

	return nil
}

// ResolvePath makes p absolute against the repo root
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RepoRoot, p)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
