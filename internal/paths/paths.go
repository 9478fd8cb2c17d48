package paths

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MetaDirName is the per-repository metadata directory
const MetaDirName = ".ctxlink"

// CanonicalizePath converts an absolute path to a repo-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to repo root
// - Converts backslashes to forward slashes
// - Returns repo-relative path with forward slashes
func CanonicalizePath(absolutePath string, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		// Deleted files can't be resolved; use the path as-is
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	repoRootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if os.IsNotExist(err) {
			repoRootResolved = repoRoot
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(repoRootResolved, resolved)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(relativePath), nil
}

// IsWithinRepo checks if a path is within the repository root
func IsWithinRepo(p string, repoRoot string) bool {
	canonical, err := CanonicalizePath(p, repoRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// NormalizePath turns a repo-relative path into the canonical key form:
// forward slashes, no leading "./" or "/", cleaned of "." and ".." segments.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// HasDirPrefix reports whether the normalized path p lies under dir
func HasDirPrefix(p, dir string) bool {
	dir = strings.TrimSuffix(NormalizePath(dir), "/")
	if dir == "" {
		return false
	}
	p = NormalizePath(p)
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// JoinRepoPath joins a repo root with a canonical path
func JoinRepoPath(repoRoot string, canonicalPath string) string {
	normalizedPath := strings.ReplaceAll(canonicalPath, "\\", "/")
	parts := strings.Split(normalizedPath, "/")
	return filepath.Join(append([]string{repoRoot}, parts...)...)
}

// MetaDir returns <repoRoot>/.ctxlink
func MetaDir(repoRoot string) string {
	return filepath.Join(repoRoot, MetaDirName)
}

// EnsureMetaDir creates <repoRoot>/.ctxlink if needed and returns it
func EnsureMetaDir(repoRoot string) (string, error) {
	dir := MetaDir(repoRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultDBPath returns <repoRoot>/.ctxlink/ctxlink.db
func DefaultDBPath(repoRoot string) string {
	return filepath.Join(MetaDir(repoRoot), "ctxlink.db")
}

// GetLogPath returns <repoRoot>/.ctxlink/logs/ctxlink.log
func GetLogPath(repoRoot string) string {
	return filepath.Join(MetaDir(repoRoot), "logs", "ctxlink.log")
}

// EnsureLogsDir creates <repoRoot>/.ctxlink/logs if needed
func EnsureLogsDir(repoRoot string) (string, error) {
	dir := filepath.Join(MetaDir(repoRoot), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
