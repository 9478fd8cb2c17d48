package git

import (
	"context"
	"os"
	"strings"

	"ctxlink/internal/errors"
	"ctxlink/internal/paths"
)

// diffArgs are shared by every unified diff request. Zero context lines keep
// hunk ranges limited to the edited lines.
var diffArgs = []string{"diff", "--no-color", "--no-ext-diff", "--unified=0"}

// Diff returns the unified working-tree diff, restricted to paths when given.
// The diff is taken against HEAD when the branch has commits, so staged and
// unstaged edits are both reported.
func (g *Adapter) Diff(ctx context.Context, paths []string) (string, error) {
	args := append([]string{}, diffArgs...)
	if g.HasHead(ctx) {
		args = append(args, "HEAD")
	}
	args = append(args, "--")
	args = append(args, paths...)

	output, err := g.execGit(ctx, nil, nil, args...)
	if err != nil {
		return "", errors.New(errors.DiffFailed, "git diff failed", err, nil)
	}
	return string(output), nil
}

// DiffNew returns a unified diff presenting an untracked file as fully added
func (g *Adapter) DiffNew(ctx context.Context, path string) (string, error) {
	args := append([]string{}, diffArgs...)
	args = append(args, "--no-index", "--", os.DevNull, path)

	// --no-index exits 1 when the inputs differ
	output, err := g.execGit(ctx, nil, []int{1}, args...)
	if err != nil {
		return "", errors.New(errors.DiffFailed, "git diff --no-index failed", err, nil)
	}
	return string(output), nil
}

// UntrackedFiles returns the untracked, non-ignored files among paths
func (g *Adapter) UntrackedFiles(ctx context.Context, paths []string) ([]string, error) {
	args := []string{"ls-files", "--others", "--exclude-standard", "--"}
	args = append(args, paths...)
	return g.runLines(ctx, args...)
}

// HasHead reports whether HEAD resolves to a commit
func (g *Adapter) HasHead(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	return err == nil
}

// Exists reports whether a repo-relative path exists in the working tree
func (g *Adapter) Exists(path string) bool {
	_, err := os.Lstat(paths.JoinRepoPath(g.repoRoot, strings.TrimPrefix(path, "/")))
	return err == nil
}
