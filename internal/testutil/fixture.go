// Package testutil provides fixtures for tests that need a real git repository.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when the git binary is unavailable.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// NewGitRepo creates an empty repository on branch main with a local
// identity configured, and returns its root.
func NewGitRepo(t *testing.T) string {
	t.Helper()
	RequireGit(t)

	root := t.TempDir()
	// Resolve symlinks so paths compare equal to git's view (macOS /private/var)
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	Git(t, root, "init", "-q")
	Git(t, root, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, root, "config", "user.email", "dev@example.com")
	Git(t, root, "config", "user.name", "Dev Example")
	Git(t, root, "config", "commit.gpgsign", "false")
	return root
}

// NewGitRepoWithCommit creates a repository holding one committed file.
func NewGitRepoWithCommit(t *testing.T) string {
	t.Helper()
	root := NewGitRepo(t)
	WriteFile(t, root, "README.md", "# fixture\n")
	Git(t, root, "add", "README.md")
	Git(t, root, "commit", "-q", "-m", "initial")
	return root
}

// Git runs a git command in dir and returns trimmed stdout, failing the test
// on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_DATE=2024-01-01T00:00:00Z",
		"GIT_COMMITTER_DATE=2024-01-01T00:00:00Z",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to a repo-relative path, creating parents.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
	return full
}

// ReadFile returns the content of a repo-relative path.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", rel, err)
	}
	return string(data)
}
