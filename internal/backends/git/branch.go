package git

import (
	"context"
	"path/filepath"
	"strings"
)

// CurrentBranch returns the checked-out branch name. On a detached HEAD it
// returns the commit hash and detached=true.
func (g *Adapter) CurrentBranch(ctx context.Context) (name string, detached bool, err error) {
	name, err = g.run(ctx, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err == nil && name != "" {
		return name, false, nil
	}

	hash, hashErr := g.run(ctx, "rev-parse", "--verify", "HEAD")
	if hashErr != nil {
		return "", false, hashErr
	}
	return hash, true, nil
}

// BranchTip returns the commit a local branch points to, or "" when the
// branch does not exist.
func (g *Adapter) BranchTip(ctx context.Context, branch string) (string, error) {
	// rev-parse --verify --quiet exits 1 without output for a missing ref
	output, err := g.execGit(ctx, nil, []int{1}, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// TreeOf returns the tree hash of a commit
func (g *Adapter) TreeOf(ctx context.Context, commit string) (string, error) {
	return g.run(ctx, "rev-parse", "--verify", commit+"^{tree}")
}

// Add stages additions, modifications and removals for paths
func (g *Adapter) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// RemoveCached unstages paths that no longer exist in the working tree.
// A removed directory unstages everything below it.
func (g *Adapter) RemoveCached(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"rm", "-r", "--cached", "-q", "--ignore-unmatch", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// StagedPaths lists paths whose staged content differs from HEAD
func (g *Adapter) StagedPaths(ctx context.Context) ([]string, error) {
	return g.runLines(ctx, "diff", "--cached", "--name-only", "--no-renames")
}

// Commit records the index as a new commit on the current branch and
// returns its hash. Hooks are skipped.
func (g *Adapter) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.run(ctx, "commit", "-q", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

// ReadTree loads treeish into the index; an empty treeish empties it
func (g *Adapter) ReadTree(ctx context.Context, treeish string) error {
	if treeish == "" {
		_, err := g.run(ctx, "read-tree", "--empty")
		return err
	}
	_, err := g.run(ctx, "read-tree", treeish)
	return err
}

// WriteTree writes the index as a tree object and returns its hash
func (g *Adapter) WriteTree(ctx context.Context) (string, error) {
	return g.run(ctx, "write-tree")
}

// CommitTree creates a commit object for tree. An empty parent creates a
// root commit.
func (g *Adapter) CommitTree(ctx context.Context, tree, parent, message string) (string, error) {
	args := []string{"commit-tree", tree, "-m", message}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	return g.run(ctx, args...)
}

// UpdateBranch moves refs/heads/branch to commit. When oldCommit is set the
// update only succeeds if the branch still points at it; an empty oldCommit
// requires the branch not to exist yet.
func (g *Adapter) UpdateBranch(ctx context.Context, branch, commit, oldCommit, reason string) error {
	args := []string{"update-ref", "-m", reason, "refs/heads/" + branch, commit}
	if oldCommit != "" {
		args = append(args, oldCommit)
	} else {
		args = append(args, "")
	}
	_, err := g.run(ctx, args...)
	return err
}

// IndexedPaths lists every path in the index
func (g *Adapter) IndexedPaths(ctx context.Context) ([]string, error) {
	return g.runLines(ctx, "ls-files", "--cached")
}

// IgnoredPaths returns the paths matched by the repository's ignore rules
func (g *Adapter) IgnoredPaths(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return []string{}, nil
	}
	args := append([]string{"check-ignore", "--"}, paths...)

	// check-ignore exits 1 when nothing is ignored
	output, err := g.execGit(ctx, nil, []int{1}, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(string(output)), nil
}

// SetHead points HEAD at a local branch without touching the index or the
// working tree. The branch does not need to exist yet.
func (g *Adapter) SetHead(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch)
	return err
}

// DetachHead points HEAD directly at commit
func (g *Adapter) DetachHead(ctx context.Context, commit string) error {
	_, err := g.run(ctx, "update-ref", "--no-deref", "-m", "ctxlink: restore", "HEAD", commit)
	return err
}

// IndexFile returns the absolute path of the repository index
func (g *Adapter) IndexFile(ctx context.Context) (string, error) {
	p, err := g.run(ctx, "rev-parse", "--git-path", "index")
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.repoRoot, p)
	}
	return p, nil
}
