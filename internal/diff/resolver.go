package diff

import (
	"context"
	"log/slog"
	"strings"

	"ctxlink/internal/paths"
)

// Differ produces unified diffs of the working tree
type Differ interface {
	// Diff returns the working-tree diff, restricted to paths when non-empty
	Diff(ctx context.Context, paths []string) (string, error)
	// DiffNew returns a diff presenting an untracked file as fully added
	DiffNew(ctx context.Context, path string) (string, error)
	// UntrackedFiles returns the untracked files among paths
	UntrackedFiles(ctx context.Context, paths []string) ([]string, error)
}

// Source records which strategy produced a resolution
type Source string

const (
	SourceRestricted Source = "restricted"
	SourceFull       Source = "full"
	SourceFallback   Source = "fallback"
	SourceNone       Source = "none"
)

// Resolution is the outcome of resolving a candidate set
type Resolution struct {
	Files  []FileRanges
	Source Source
}

// Resolver converts candidate paths into changed line ranges
type Resolver struct {
	differ Differ
	logger *slog.Logger
}

// NewResolver creates a Resolver over differ
func NewResolver(differ Differ, logger *slog.Logger) *Resolver {
	return &Resolver{differ: differ, logger: logger}
}

// Resolve diffs the candidates (or the whole working tree when there are
// none) and returns merged ranges per file. Diff and parse failures are
// logged and degrade to the whole-file fallback; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, candidates []string) *Resolution {
	candidates = normalizeCandidates(candidates)

	if len(candidates) > 0 {
		text := r.restrictedDiff(ctx, candidates)
		if strings.TrimSpace(text) != "" {
			if files := r.parse(text); len(files) > 0 {
				files = assignOrphanHunks(files, candidates)
				SortFiles(files)
				return &Resolution{Files: files, Source: SourceRestricted}
			}
		}
	}

	text, err := r.differ.Diff(ctx, nil)
	if err != nil {
		r.logger.Warn("Full diff failed",
			"error", err.Error(),
		)
	}
	files := r.parse(text)
	if len(files) > 0 {
		files = assignOrphanHunks(files, candidates)
		SortFiles(files)
		return &Resolution{Files: files, Source: SourceFull}
	}

	if len(candidates) > 0 {
		r.logger.Debug("No diff hunks for candidates, recording whole files",
			"candidates", len(candidates),
		)
		files = make([]FileRanges, 0, len(candidates))
		for _, c := range candidates {
			files = append(files, FileRanges{Path: c, Ranges: []LineRange{WholeFile}})
		}
		return &Resolution{Files: files, Source: SourceFallback}
	}

	return &Resolution{Files: []FileRanges{}, Source: SourceNone}
}

// restrictedDiff returns the diff of tracked candidates followed by
// synthetic diffs for untracked ones.
func (r *Resolver) restrictedDiff(ctx context.Context, candidates []string) string {
	var sb strings.Builder

	text, err := r.differ.Diff(ctx, candidates)
	if err != nil {
		r.logger.Warn("Restricted diff failed",
			"candidates", len(candidates),
			"error", err.Error(),
		)
	} else {
		sb.WriteString(text)
	}

	untracked, err := r.differ.UntrackedFiles(ctx, candidates)
	if err != nil {
		r.logger.Debug("Listing untracked candidates failed", "error", err.Error())
		return sb.String()
	}
	for _, p := range untracked {
		text, err := r.differ.DiffNew(ctx, p)
		if err != nil {
			r.logger.Debug("Diff of untracked file failed", "path", p, "error", err.Error())
			continue
		}
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func (r *Resolver) parse(text string) []FileRanges {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	files, err := ParseRanges(text)
	if err != nil {
		r.logger.Warn("Failed to parse diff", "error", err.Error())
		return nil
	}
	return files
}

// assignOrphanHunks attributes hunks without a file header to the single
// candidate when there is exactly one, and drops them otherwise.
func assignOrphanHunks(files []FileRanges, candidates []string) []FileRanges {
	out := files[:0]
	for _, f := range files {
		if f.Path != "" {
			out = append(out, f)
			continue
		}
		if len(candidates) == 1 {
			out = append(out, FileRanges{Path: candidates[0], Ranges: f.Ranges})
		}
	}
	return mergeDuplicatePaths(out)
}

func mergeDuplicatePaths(files []FileRanges) []FileRanges {
	index := make(map[string]int, len(files))
	out := make([]FileRanges, 0, len(files))
	for _, f := range files {
		if i, ok := index[f.Path]; ok {
			out[i].Ranges = MergeRanges(append(out[i].Ranges, f.Ranges...))
			continue
		}
		index[f.Path] = len(out)
		out = append(out, f)
	}
	return out
}

func normalizeCandidates(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = paths.NormalizePath(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
