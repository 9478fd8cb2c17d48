package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ctxlink/internal/conversation"
	"ctxlink/internal/poller"
	"ctxlink/internal/slogutil"
)

var pairsFormat string

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Show prompt/response pairs of the active conversation",
	Long: `Fetch the active conversation once and print every pair with its completion
status. Nothing is stored or committed.

Examples:
  ctxlink pairs
  ctxlink pairs --format json`,
	Args: cobra.NoArgs,
	RunE: runPairs,
}

func init() {
	pairsCmd.Flags().StringVar(&pairsFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(pairsCmd)
}

// PairView is the CLI rendering of an evaluated pair
type PairView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Status         string     `json:"status"`
	Prompt         string     `json:"prompt"`
	AssistantTurns int        `json:"assistantTurns"`
	StartedAt      time.Time  `json:"startedAt"`
	LastReplyAt    *time.Time `json:"lastReplyAt,omitempty"`
}

func runPairs(cmd *cobra.Command, args []string) error {
	repoRoot, err := getRepoRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return err
	}
	logger := slogutil.NewLoggerFactory(repoRoot, cfg, cliLevel()).ConsoleLogger(os.Stderr)

	source, err := conversation.NewSource(
		cfg.Conversation.Source,
		cfg.ResolvePath(cfg.Conversation.Path),
		cfg.Conversation.ConversationID,
		logger,
	)
	if err != nil {
		return err
	}
	if closer, ok := source.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	turns, err := source.ActiveTurns(cmd.Context())
	if err != nil {
		return err
	}

	evaluated, orphans := poller.Evaluate(turns, time.Now(), millis(cfg.Correlation.CompletionWaitMs))
	views := make([]PairView, 0, len(evaluated))
	for _, e := range evaluated {
		view := PairView{
			ID:             e.Pair.ID(),
			ConversationID: e.Pair.User.ConversationID,
			Status:         e.Status.String(),
			Prompt:         e.Pair.User.Text,
			AssistantTurns: len(e.Pair.Assistants),
			StartedAt:      e.Pair.User.CreatedAt,
		}
		if last, ok := e.Pair.LastAssistant(); ok {
			view.LastReplyAt = &last.CreatedAt
		}
		views = append(views, view)
	}

	if pairsFormat == "json" {
		return printJSON(views)
	}

	if len(views) == 0 {
		fmt.Println("No pairs in the active conversation.")
		return nil
	}
	for _, v := range views {
		fmt.Printf("%-10s  %s  %s  (%d replies)\n", v.Status, v.ID, truncate(firstLine(v.Prompt), 60), v.AssistantTurns)
	}
	if orphans > 0 {
		fmt.Printf("\n%d assistant turn(s) before the first prompt were ignored\n", orphans)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
