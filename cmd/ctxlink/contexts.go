package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ctxlink/internal/backends/git"
	"ctxlink/internal/contextstore"
	"ctxlink/internal/errors"
	"ctxlink/internal/paths"
	"ctxlink/internal/slogutil"
)

var contextsFormat string

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored context",
	Long: `Print one stored context. When it was snapshotted, the commit summary is
included.

Examples:
  ctxlink show 6f1c2e
  ctxlink show 6f1c2e --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <file> <line>",
	Short: "List contexts that changed a line",
	Long: `List every stored context whose recorded ranges cover the given line,
oldest first.

Examples:
  ctxlink lookup src/app.go 42`,
	Args: cobra.ExactArgs(2),
	RunE: runLookup,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contexts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	for _, c := range []*cobra.Command{showCmd, lookupCmd, listCmd} {
		c.Flags().StringVar(&contextsFormat, "format", "human", "Output format (json, human)")
		rootCmd.AddCommand(c)
	}
}

// ShowResponse is the output of ctxlink show
type ShowResponse struct {
	Context contextstore.Context `json:"context"`
	Commit  *git.CommitInfo      `json:"commit,omitempty"`
}

// withStore opens the repository's context store for a read-only command
func withStore(cmd *cobra.Command, fn func(repoRoot string, store *contextstore.Store) error) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}
	logger := slogutil.NewLoggerFactory(repoRoot, cfg, cliLevel()).ConsoleLogger(os.Stderr)

	store, err := openStore(cmd.Context(), cfg, repoRoot, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(repoRoot, store)
}

func runShow(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}
	logger := slogutil.NewLoggerFactory(repoRoot, cfg, cliLevel()).ConsoleLogger(os.Stderr)

	backend, err := openBackend(cfg, repoRoot, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	c, ok, err := backend.Get(cmd.Context(), args[0])
	if err != nil {
		return errors.New(errors.StoreFailed, "Failed to read context "+args[0], err, nil)
	}
	if !ok {
		return errors.New(errors.NotFound, "No context with id "+args[0], nil, nil)
	}

	resp := ShowResponse{Context: c}
	if c.CommitHash != "" {
		resp.Commit = lookupCommit(repoRoot, c.CommitHash)
	}

	if contextsFormat == "json" {
		return printJSON(resp)
	}
	printContext(resp)
	return nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		return fmt.Errorf("invalid line %q: must be a positive integer", args[1])
	}

	return withStore(cmd, func(repoRoot string, store *contextstore.Store) error {
		file, err := repoRelative(repoRoot, args[0])
		if err != nil {
			return err
		}

		found := store.Lookup(file, line)
		if contextsFormat == "json" {
			return printJSON(found)
		}
		if len(found) == 0 {
			fmt.Printf("No context touched %s:%d\n", file, line)
			return nil
		}
		printSummaries(found)
		return nil
	})
}

// repoRelative accepts a repo-relative path as-is. A path that exists from
// the current directory, or an absolute one, is resolved against the
// repository root.
func repoRelative(repoRoot, file string) (string, error) {
	if !filepath.IsAbs(file) {
		if _, err := os.Stat(file); err != nil {
			return file, nil
		}
		abs, err := filepath.Abs(file)
		if err != nil {
			return file, nil
		}
		file = abs
	}
	if !paths.IsWithinRepo(file, repoRoot) {
		return "", fmt.Errorf("%s is outside the repository %s", file, repoRoot)
	}
	return paths.CanonicalizePath(file, repoRoot)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(_ string, store *contextstore.Store) error {
		all := store.List()
		if contextsFormat == "json" {
			return printJSON(all)
		}
		if len(all) == 0 {
			fmt.Println("No contexts stored yet.")
			return nil
		}
		printSummaries(all)
		return nil
	})
}

// lookupCommit reads commit details; a missing commit is not an error for show
func lookupCommit(repoRoot, hash string) *git.CommitInfo {
	adapter, err := git.NewAdapter(repoRoot, 0, slogutil.NewDiscardLogger())
	if err != nil {
		return nil
	}
	info, err := adapter.LookupCommit(hash)
	if err != nil {
		return nil
	}
	return info
}

func printSummaries(cs []contextstore.Context) {
	for _, c := range cs {
		commit := "-"
		if c.CommitHash != "" {
			commit = shortHash(c.CommitHash)
		}
		fmt.Printf("%s  %-12s  %-8s  %2d file(s)  %s\n",
			c.Timestamp.Local().Format("2006-01-02 15:04:05"),
			c.ID, commit, len(c.Files), truncate(firstLine(c.Prompt), 50))
	}
}

func printContext(resp ShowResponse) {
	c := resp.Context
	fmt.Printf("Context %s\n", c.ID)
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Conversation: %s\n", c.ConversationID)
	fmt.Printf("Recorded:     %s\n", c.Timestamp.Local().Format("2006-01-02 15:04:05"))
	if c.Metadata.Model != "" {
		fmt.Printf("Model:        %s\n", c.Metadata.Model)
	}
	if c.Metadata.InputTokens != nil || c.Metadata.OutputTokens != nil {
		fmt.Printf("Tokens:       in=%s out=%s\n", optionalInt(c.Metadata.InputTokens), optionalInt(c.Metadata.OutputTokens))
	}

	if c.CommitHash != "" {
		fmt.Printf("Commit:       %s", c.CommitHash)
		if c.ParentCommitHash != "" {
			fmt.Printf(" (parent %s)", shortHash(c.ParentCommitHash))
		}
		fmt.Println()
		if resp.Commit != nil {
			fmt.Printf("              %s by %s, %d file(s)\n",
				firstLine(resp.Commit.Message), resp.Commit.Author, len(resp.Commit.Files))
		}
	}

	fmt.Println("\nFiles:")
	if len(c.Files) == 0 {
		fmt.Println("  (none)")
	}
	for _, f := range c.Files {
		ranges := make([]string, 0, len(f.Ranges))
		for _, r := range f.Ranges {
			ranges = append(ranges, r.String())
		}
		fmt.Printf("  %s %s\n", f.Path, strings.Join(ranges, " "))
	}

	if len(c.Metadata.RelatedFiles) > 0 {
		fmt.Printf("\nRelated files: %s\n", strings.Join(c.Metadata.RelatedFiles, ", "))
	}
	if len(c.Metadata.Links) > 0 {
		fmt.Printf("Links: %s\n", strings.Join(c.Metadata.Links, ", "))
	}

	fmt.Println("\nPrompt:")
	fmt.Println(indent(c.Prompt))
	fmt.Println("\nResponse:")
	fmt.Println(indent(c.Response))
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
