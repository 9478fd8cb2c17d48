package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"ctxlink/internal/slogutil"
	"ctxlink/internal/version"
)

var (
	// repoFlag overrides repository discovery from the working directory
	repoFlag  string
	verbosity int
	quietFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "ctxlink",
	Short: "ctxlink - link AI chat turns to the code they changed",
	Long: `ctxlink watches an AI assistant conversation and the working tree it edits.
Each completed prompt/response exchange is recorded together with the files and
line ranges that changed while it happened, optionally snapshotted as a commit on
a per-user branch, so any line can be traced back to the conversation behind it.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("ctxlink version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository root (default: discovered from the working directory)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
}

// cliLevel returns the log level requested on the command line, or nil when
// the config should decide.
func cliLevel() *slog.Level {
	if verbosity == 0 && !quietFlag {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quietFlag)
	return &level
}
