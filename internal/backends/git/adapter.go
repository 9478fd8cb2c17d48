package git

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"ctxlink/internal/errors"
)

// BackendID identifies the git backend in logs and metrics
const BackendID = "git"

// Adapter runs git commands against one working tree
type Adapter struct {
	repoRoot string
	// timeout bounds each invocation; zero means no timeout
	timeout time.Duration
	logger  *slog.Logger
	// env is appended to every invocation, e.g. GIT_INDEX_FILE
	env []string
}

// NewAdapter creates a git adapter for repoRoot
func NewAdapter(repoRoot string, timeout time.Duration, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		return nil, errors.New(errors.InternalError, "Logger is required for git Adapter", nil, nil)
	}

	if !IsGitRepository(repoRoot) {
		return nil, errors.New(
			errors.InternalError,
			"Not a git repository: "+repoRoot,
			nil,
			[]errors.FixAction{
				{
					Type:        errors.RunCommand,
					Command:     "git status",
					Safe:        true,
					Description: "Verify you're in a git repository",
				},
				{
					Type:        errors.RunCommand,
					Command:     "git init",
					Safe:        false,
					Description: "Initialize a git repository",
				},
			},
		)
	}

	logger.Debug("Git adapter initialized",
		"backend", BackendID,
		"repoRoot", repoRoot,
		"timeout", timeout.String(),
	)

	return &Adapter{
		repoRoot: repoRoot,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// RepoRoot returns the working tree the adapter operates on
func (g *Adapter) RepoRoot() string {
	return g.repoRoot
}

// IsGitRepository checks if the given path is inside a git working tree
func IsGitRepository(repoRoot string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = repoRoot
	return cmd.Run() == nil
}

// RepoRootOf finds the top level of the working tree containing startPath
func RepoRootOf(startPath string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = startPath

	output, err := cmd.Output()
	if err != nil {
		return "", errors.New(
			errors.InternalError,
			"Not a git repository",
			err,
			[]errors.FixAction{
				{
					Type:        errors.RunCommand,
					Command:     "git init",
					Safe:        false,
					Description: "Initialize a git repository",
				},
			},
		)
	}

	return strings.TrimSpace(string(output)), nil
}

// execGit runs git and returns raw stdout. extraEnv entries are appended to
// the process environment. okExit lists non-zero exit codes that still count
// as success (git diff --no-index exits 1 when the files differ).
func (g *Adapter) execGit(ctx context.Context, extraEnv []string, okExit []int, args ...string) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot
	if env := append(append([]string{}, g.env...), extraEnv...); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	g.logger.Debug("Executing git command",
		"args", args,
		"timeout", g.timeout.String(),
	)

	output, err := cmd.Output()
	if err == nil {
		return output, nil
	}

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errors.New(errors.Timeout, "Git command timed out", err, nil).
			WithDetails(map[string]interface{}{"args": args})
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		for _, code := range okExit {
			if exitErr.ExitCode() == code {
				return output, nil
			}
		}
		return nil, errors.New(errors.InternalError, "Git command failed", err, nil).
			WithDetails(map[string]interface{}{
				"args":   args,
				"stderr": strings.TrimSpace(stderr.String()),
			})
	}

	return nil, errors.New(errors.InternalError, "Failed to execute git command", err, nil)
}

// run executes git and returns trimmed stdout
func (g *Adapter) run(ctx context.Context, args ...string) (string, error) {
	output, err := g.execGit(ctx, nil, nil, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// WithIndex returns a copy of the adapter whose commands use indexFile
// instead of the repository index. HEAD and the working tree are shared.
func (g *Adapter) WithIndex(indexFile string) *Adapter {
	c := *g
	c.env = append(append([]string{}, g.env...), "GIT_INDEX_FILE="+indexFile)
	return &c
}

// runLines executes git and returns the non-empty output lines
func (g *Adapter) runLines(ctx context.Context, args ...string) ([]string, error) {
	output, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	return splitLines(output), nil
}

func splitLines(output string) []string {
	lines := strings.Split(output, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
