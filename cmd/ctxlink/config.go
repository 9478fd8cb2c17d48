package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ctxlink/internal/config"
	"ctxlink/internal/paths"
)

var (
	configForce        bool
	configExportFormat string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ctxlink configuration",
	Long:  "View and manage ctxlink configuration stored in .ctxlink/config.json",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Create .ctxlink/config.json with default values.

Examples:
  ctxlink config init
  ctxlink config init --force   # overwrite an existing file`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and CTXLINK_*
environment overrides have been merged.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the effective configuration in another format",
	Long: `Render the effective configuration as JSON, YAML or TOML. The output can be
saved as .ctxlink/config.yaml or .ctxlink/config.toml instead of config.json.

Examples:
  ctxlink config export --format yaml > .ctxlink/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigExport,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configExportCmd.Flags().StringVar(&configExportFormat, "format", "json", "Output format (json, yaml, toml)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExportCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}

	target := filepath.Join(paths.MetaDir(repoRoot), "config.json")
	if _, err := os.Stat(target); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", target)
	}

	if err := config.DefaultConfig().Save(repoRoot); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", target)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		return err
	}

	fmt.Println("ctxlink Configuration")
	fmt.Println("──────────────────────────────────────────────────")
	fmt.Printf("Repository: %s\n\n", cfg.RepoRoot)

	defaults := config.DefaultConfig()
	rows := []struct {
		name          string
		value, defval interface{}
	}{
		{"correlation.pollIntervalMs", cfg.Correlation.PollIntervalMs, defaults.Correlation.PollIntervalMs},
		{"correlation.completionWaitMs", cfg.Correlation.CompletionWaitMs, defaults.Correlation.CompletionWaitMs},
		{"correlation.changeRetentionMs", cfg.Correlation.ChangeRetentionMs, defaults.Correlation.ChangeRetentionMs},
		{"correlation.gracePeriodMs", cfg.Correlation.GracePeriodMs, defaults.Correlation.GracePeriodMs},
		{"conversation.source", cfg.Conversation.Source, defaults.Conversation.Source},
		{"conversation.path", cfg.Conversation.Path, defaults.Conversation.Path},
		{"conversation.conversationId", cfg.Conversation.ConversationID, defaults.Conversation.ConversationID},
		{"snapshot.enabled", cfg.Snapshot.Enabled, defaults.Snapshot.Enabled},
		{"snapshot.mode", cfg.Snapshot.Mode, defaults.Snapshot.Mode},
		{"snapshot.branchPrefix", cfg.Snapshot.BranchPrefix, defaults.Snapshot.BranchPrefix},
		{"watcher.enabled", cfg.Watcher.Enabled, defaults.Watcher.Enabled},
		{"git.timeoutMs", cfg.Git.TimeoutMs, defaults.Git.TimeoutMs},
		{"store.path", storePath(cfg, cfg.RepoRoot), storePath(defaults, cfg.RepoRoot)},
		{"logging.format", cfg.Logging.Format, defaults.Logging.Format},
		{"logging.level", cfg.Logging.Level, defaults.Logging.Level},
		{"metrics.addr", cfg.Metrics.Addr, defaults.Metrics.Addr},
	}
	for _, r := range rows {
		modified := ""
		if fmt.Sprint(r.value) != fmt.Sprint(r.defval) {
			modified = fmt.Sprintf(" (default: %v)", r.defval)
		}
		fmt.Printf("%s: %v%s\n", r.name, r.value, modified)
	}

	patterns := append([]string(nil), cfg.Watcher.IgnorePatterns...)
	sort.Strings(patterns)
	fmt.Printf("watcher.ignorePatterns: %v\n", patterns)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nWarning: %v\n", err)
	}
	return nil
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		return err
	}

	out, err := renderConfig(cfg, configExportFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// renderConfig encodes cfg as json, yaml or toml
func renderConfig(cfg *config.Config, format string) (string, error) {
	switch format {
	case "json":
		var buf bytes.Buffer
		if err := writeJSON(&buf, cfg); err != nil {
			return "", err
		}
		return buf.String(), nil
	case "yaml", "yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to encode YAML: %w", err)
		}
		return string(data), nil
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return "", fmt.Errorf("failed to encode TOML: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}
