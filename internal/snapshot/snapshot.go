// Package snapshot commits the files touched by an exchange to a
// per-identity branch, leaving the user's branch checked out afterwards.
package snapshot

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ctxlink/internal/backends/git"
	"ctxlink/internal/errors"
	"ctxlink/internal/paths"
)

// Mode selects how the snapshot commit is produced
type Mode string

const (
	// ModeIndex builds the commit in a private index; HEAD never moves
	ModeIndex Mode = "index"
	// ModeCheckout moves HEAD to the snapshot branch, commits there and
	// moves it back
	ModeCheckout Mode = "checkout"
)

// DefaultBranchPrefix namespaces snapshot branches
const DefaultBranchPrefix = "ctxlink"

// ParseMode validates a configured mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIndex, ModeCheckout:
		return Mode(s), nil
	case "":
		return ModeIndex, nil
	}
	return "", errors.New(errors.InvalidConfig, fmt.Sprintf("Unknown snapshot mode %q", s), nil, nil)
}

// Request describes one snapshot
type Request struct {
	// ID identifies the context the snapshot belongs to
	ID      string
	Message string
	Paths   []string
}

// Result is the outcome of a snapshot
type Result struct {
	Branch           string
	CommitHash       string
	ParentCommitHash string
	Committed        bool
	Paths            []string
}

// Snapshotter commits correlated files to the snapshot branch. Calls are
// serialized.
type Snapshotter struct {
	git    *git.Adapter
	mode   Mode
	prefix string
	logger *slog.Logger

	// onBranch runs in checkout mode once HEAD points at the snapshot branch
	onBranch func() error

	mu sync.Mutex
	// previous is the branch (or commit, when detached) checked out before
	// the current snapshot started
	previous         string
	previousDetached bool
}

// New creates a Snapshotter
func New(adapter *git.Adapter, mode Mode, prefix string, logger *slog.Logger) (*Snapshotter, error) {
	if adapter == nil {
		return nil, errors.New(errors.InternalError, "Git adapter is required for snapshots", nil, nil)
	}
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return &Snapshotter{git: adapter, mode: mode, prefix: prefix, logger: logger}, nil
}

// Mode returns the configured strategy
func (s *Snapshotter) Mode() Mode {
	return s.mode
}

// Branch returns the snapshot branch of the current git identity
func (s *Snapshotter) Branch() string {
	return s.prefix + "/" + git.SanitizeRefComponent(s.git.Identity())
}

// Snapshot commits req.Paths to the snapshot branch. The branch that was
// checked out when the call started is checked out again before it returns,
// whether it succeeds, fails or panics. A failure to restore is reported
// even when the commit itself succeeded.
func (s *Snapshotter) Snapshot(ctx context.Context, req Request) (res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch := s.Branch()
	logger := s.logger.With("context", req.ID, "branch", branch, "mode", string(s.mode))

	prev, detached, err := s.git.CurrentBranch(ctx)
	if err != nil {
		return nil, branchError("Failed to record the current branch", branch, err)
	}
	s.previous, s.previousDetached = prev, detached

	files := s.stageable(ctx, req.Paths, logger)
	if len(files) == 0 {
		logger.Debug("Nothing to snapshot")
		return &Result{Branch: branch}, nil
	}

	var saved *savedIndex
	if s.mode == ModeCheckout {
		saved, err = s.saveIndex(ctx)
		if err != nil {
			return nil, branchError("Failed to save the repository index", branch, err)
		}
	}
	defer s.restore(ctx, saved, logger, &err)

	tip, err := s.git.BranchTip(ctx, branch)
	if err != nil {
		return nil, branchError("Failed to resolve snapshot branch", branch, err)
	}

	message := req.Message
	if message == "" {
		message = "ctxlink snapshot " + req.ID
	}

	if s.mode == ModeCheckout {
		res, err = s.commitOnBranch(ctx, branch, tip, files, message)
	} else {
		res, err = s.commitWithPrivateIndex(ctx, branch, tip, files, message)
	}
	if err != nil {
		return nil, err
	}

	if res.Committed {
		logger.Info("Snapshot committed",
			"commit", res.CommitHash,
			"parent", res.ParentCommitHash,
			"files", len(files),
		)
	} else {
		logger.Debug("Snapshot skipped, no staged changes")
	}
	return res, nil
}

// commitWithPrivateIndex stages into a throwaway index seeded from the
// branch tip and moves the branch with a compare-and-swap ref update.
func (s *Snapshotter) commitWithPrivateIndex(ctx context.Context, branch, tip string, files []string, message string) (*Result, error) {
	dir, err := os.MkdirTemp("", "ctxlink-index-")
	if err != nil {
		return nil, branchError("Failed to create temporary index", branch, err)
	}
	defer os.RemoveAll(dir)

	idx := s.git.WithIndex(filepath.Join(dir, "index"))

	if err := idx.ReadTree(ctx, tip); err != nil {
		return nil, branchError("Failed to load snapshot branch tree", branch, err)
	}
	if err := stage(ctx, idx, files); err != nil {
		return nil, branchError("Failed to stage snapshot files", branch, err)
	}

	tree, err := idx.WriteTree(ctx)
	if err != nil {
		return nil, branchError("Failed to write snapshot tree", branch, err)
	}

	res := &Result{Branch: branch, ParentCommitHash: tip, Paths: files}

	if tip != "" {
		tipTree, err := s.git.TreeOf(ctx, tip)
		if err != nil {
			return nil, branchError("Failed to read snapshot branch tree", branch, err)
		}
		if tipTree == tree {
			return res, nil
		}
	} else {
		indexed, err := idx.IndexedPaths(ctx)
		if err != nil {
			return nil, branchError("Failed to list staged files", branch, err)
		}
		if len(indexed) == 0 {
			return res, nil
		}
	}

	commit, err := idx.CommitTree(ctx, tree, tip, message)
	if err != nil {
		return nil, branchError("Failed to create snapshot commit", branch, err)
	}
	if err := s.git.UpdateBranch(ctx, branch, commit, tip, "ctxlink: snapshot"); err != nil {
		return nil, branchError("Failed to update snapshot branch", branch, err)
	}

	res.CommitHash = commit
	res.Committed = true
	return res, nil
}

// commitOnBranch points HEAD at the snapshot branch (an orphan when it does
// not exist yet), resets the index to its tree, stages and commits. The
// working tree is left alone; HEAD and the index are restored afterwards.
func (s *Snapshotter) commitOnBranch(ctx context.Context, branch, tip string, files []string, message string) (*Result, error) {
	if err := s.git.SetHead(ctx, branch); err != nil {
		return nil, branchError("Failed to switch to snapshot branch", branch, err)
	}
	if s.onBranch != nil {
		if err := s.onBranch(); err != nil {
			return nil, branchError("Snapshot interrupted", branch, err)
		}
	}
	if err := s.git.ReadTree(ctx, tip); err != nil {
		return nil, branchError("Failed to load snapshot branch tree", branch, err)
	}
	if err := stage(ctx, s.git, files); err != nil {
		return nil, branchError("Failed to stage snapshot files", branch, err)
	}

	var staged []string
	var err error
	if tip == "" {
		staged, err = s.git.IndexedPaths(ctx)
	} else {
		staged, err = s.git.StagedPaths(ctx)
	}
	if err != nil {
		return nil, branchError("Failed to list staged files", branch, err)
	}

	res := &Result{Branch: branch, ParentCommitHash: tip, Paths: files}
	if len(staged) == 0 {
		return res, nil
	}

	commit, err := s.git.Commit(ctx, message)
	if err != nil {
		return nil, branchError("Failed to commit snapshot", branch, err)
	}

	res.CommitHash = commit
	res.Committed = true
	return res, nil
}

// restore puts HEAD (and in checkout mode the index) back to the state
// recorded at the start of the snapshot.
func (s *Snapshotter) restore(ctx context.Context, saved *savedIndex, logger *slog.Logger, errp *error) {
	ctx = context.WithoutCancel(ctx)

	var failures []error
	current, detached, err := s.git.CurrentBranch(ctx)
	if err != nil || current != s.previous || detached != s.previousDetached {
		if s.previousDetached {
			err = s.git.DetachHead(ctx, s.previous)
		} else {
			err = s.git.SetHead(ctx, s.previous)
		}
		if err != nil {
			failures = append(failures, err)
		}
	}
	if saved != nil {
		if err := saved.restore(); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) == 0 {
		return
	}
	restoreErr := stderrors.Join(failures...)
	logger.Error("Failed to restore the previous branch",
		"previous", s.previous,
		"error", restoreErr.Error(),
	)
	if *errp == nil {
		*errp = branchError("Failed to restore "+s.previous, s.Branch(), restoreErr)
	}
}

// stageable normalizes the requested paths and drops metadata and ignored
// files, which git add would reject.
func (s *Snapshotter) stageable(ctx context.Context, requested []string, logger *slog.Logger) []string {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, p := range requested {
		p = paths.NormalizePath(p)
		if p == "" || seen[p] || paths.HasDirPrefix(p, ".git") || paths.HasDirPrefix(p, paths.MetaDirName) {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return out
	}

	ignored, err := s.git.IgnoredPaths(ctx, out)
	if err != nil {
		logger.Debug("Failed to check ignore rules", "error", err.Error())
		return out
	}
	if len(ignored) == 0 {
		return out
	}

	skip := make(map[string]bool, len(ignored))
	for _, p := range ignored {
		skip[paths.NormalizePath(p)] = true
	}
	kept := out[:0]
	for _, p := range out {
		if !skip[p] {
			kept = append(kept, p)
		}
	}
	return kept
}

// stage adds existing files and unstages removed ones
func stage(ctx context.Context, g *git.Adapter, files []string) error {
	var present, removed []string
	for _, f := range files {
		if g.Exists(f) {
			present = append(present, f)
		} else {
			removed = append(removed, f)
		}
	}
	if err := g.Add(ctx, present); err != nil {
		return err
	}
	return g.RemoveCached(ctx, removed)
}

func branchError(message, branch string, cause error) error {
	return errors.New(errors.BranchFailed, message, cause, nil).
		WithDetails(map[string]string{"branch": branch})
}
