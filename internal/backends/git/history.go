package git

import (
	"os/user"
	"regexp"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"ctxlink/internal/errors"
)

// CommitInfo represents information about a single commit
type CommitInfo struct {
	Hash      string   `json:"hash"`
	Parents   []string `json:"parents,omitempty"`
	Author    string   `json:"author"`
	Timestamp string   `json:"timestamp"`
	Message   string   `json:"message"` // First line only
	Files     []string `json:"files,omitempty"`
}

// open returns a read-only go-git handle on the repository
func (g *Adapter) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(g.repoRoot, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.New(errors.InternalError, "Failed to open repository", err, nil)
	}
	return repo, nil
}

// LookupCommit loads a commit with the paths it touched
func (g *Adapter) LookupCommit(hash string) (*CommitInfo, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, errors.New(errors.NotFound, "Commit not found: "+hash, err, nil)
	}

	info := commitInfo(commit)

	stats, err := commit.Stats()
	if err != nil {
		g.logger.Debug("Failed to compute commit stats", "hash", hash, "error", err.Error())
		return info, nil
	}
	for _, s := range stats {
		info.Files = append(info.Files, s.Name)
	}
	return info, nil
}

// BranchLog returns up to limit commits reachable from branch, newest first
func (g *Adapter) BranchLog(branch string, limit int) ([]CommitInfo, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return []CommitInfo{}, nil
		}
		return nil, errors.New(errors.InternalError, "Failed to resolve branch "+branch, err, nil)
	}

	iter, err := repo.Log(&gogit.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, errors.New(errors.InternalError, "Failed to read branch log", err, nil)
	}
	defer iter.Close()

	commits := make([]CommitInfo, 0)
	for limit <= 0 || len(commits) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, *commitInfo(c))
	}
	return commits, nil
}

func commitInfo(c *object.Commit) *CommitInfo {
	info := &CommitInfo{
		Hash:      c.Hash.String(),
		Author:    c.Author.Name,
		Timestamp: c.Author.When.UTC().Format(time.RFC3339),
		Message:   strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0],
	}
	for _, p := range c.ParentHashes {
		info.Parents = append(info.Parents, p.String())
	}
	return info
}

// Identity returns the raw user identity for snapshot branch naming:
// user.email, else user.name, else the OS user name.
func (g *Adapter) Identity() string {
	if repo, err := g.open(); err == nil {
		if cfg, err := repo.ConfigScoped(gitconfig.GlobalScope); err == nil {
			if email := strings.TrimSpace(cfg.User.Email); email != "" {
				return email
			}
			if name := strings.TrimSpace(cfg.User.Name); name != "" {
				return name
			}
		} else {
			g.logger.Debug("Failed to read git config", "error", err.Error())
		}
	}

	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

var unsafeRefChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeRefComponent turns an arbitrary identity into a single valid ref
// path component.
func SanitizeRefComponent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = unsafeRefChars.ReplaceAllString(s, "-")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, ".-")
	s = strings.TrimSuffix(s, ".lock")
	if s == "" {
		return "unknown"
	}
	return s
}
