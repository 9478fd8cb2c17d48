package diff

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"ctxlink/internal/paths"
)

// ParseRanges parses a unified git diff into merged new-file ranges per
// file. Structured parsing is tried first; when it fails or yields nothing
// for text that contains hunk headers, the literal headers are scanned
// instead. Hunks whose file cannot be determined are reported under "".
func ParseRanges(diffContent string) ([]FileRanges, error) {
	if strings.TrimSpace(diffContent) == "" {
		return []FileRanges{}, nil
	}

	files, err := parseStructured(diffContent)
	if err == nil && len(files) > 0 {
		return files, nil
	}

	fallback := parseHeaders(diffContent)
	if len(fallback) > 0 {
		return fallback, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}
	return []FileRanges{}, nil
}

// parseStructured uses go-diff's hunk fields
func parseStructured(diffContent string) ([]FileRanges, error) {
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diffContent))
	if err != nil {
		return nil, err
	}

	acc := newAccumulator()
	for _, fd := range fileDiffs {
		path := effectivePath(fd)
		if path == "" {
			continue
		}
		if len(fd.Hunks) == 0 {
			// Binary or mode-only change: the file changed, lines unknown
			acc.add(path, WholeFile)
			continue
		}
		for _, h := range fd.Hunks {
			acc.add(path, hunkRange(int(h.NewStartLine), int(h.NewLines)))
		}
	}
	return acc.result(), nil
}

// effectivePath returns the new path, or the old one for deleted files
func effectivePath(fd *godiff.FileDiff) string {
	if p := cleanPath(fd.NewName); p != "" && p != "/dev/null" {
		return paths.NormalizePath(p)
	}
	if p := cleanPath(fd.OrigName); p != "" && p != "/dev/null" {
		return paths.NormalizePath(p)
	}
	return ""
}

// hunkRange maps a hunk's new-side start and count to an inclusive range.
// Pure deletions (count 0) still record the line where content was removed.
func hunkRange(start, count int) LineRange {
	if start < 1 {
		start = 1
	}
	if count <= 0 {
		return LineRange{Start: start, End: start}
	}
	return LineRange{Start: start, End: start + count - 1}
}

var (
	hunkHeader    = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	gitFileHeader = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)
)

// parseHeaders scans literal "@@ -a[,b] +c[,d] @@" headers. A missing d
// means a one-line hunk.
func parseHeaders(diffContent string) []FileRanges {
	acc := newAccumulator()
	current := ""

	for _, line := range strings.Split(diffContent, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "diff --git "):
			if m := gitFileHeader.FindStringSubmatch(line); m != nil {
				current = paths.NormalizePath(m[2])
			}
		case strings.HasPrefix(line, "+++ "):
			if p := headerPath(line[4:]); p != "" && p != "/dev/null" {
				current = paths.NormalizePath(p)
			}
		case strings.HasPrefix(line, "@@ "):
			m := hunkHeader.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			start, _ := strconv.Atoi(m[3])
			count := 1
			if m[4] != "" {
				count, _ = strconv.Atoi(m[4])
			}
			acc.add(current, hunkRange(start, count))
		}
	}
	return acc.result()
}

// headerPath strips the timestamp suffix and a/ b/ prefix of a ---/+++ line
func headerPath(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	return cleanPath(strings.TrimSpace(s))
}

// cleanPath removes the a/ or b/ prefix from git diff paths
func cleanPath(path string) string {
	if path == "" || path == "/dev/null" {
		return path
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// accumulator collects ranges per path in first-seen order
type accumulator struct {
	order  []string
	ranges map[string][]LineRange
}

func newAccumulator() *accumulator {
	return &accumulator{ranges: make(map[string][]LineRange)}
}

func (a *accumulator) add(path string, r LineRange) {
	if _, ok := a.ranges[path]; !ok {
		a.order = append(a.order, path)
	}
	a.ranges[path] = append(a.ranges[path], r)
}

func (a *accumulator) result() []FileRanges {
	out := make([]FileRanges, 0, len(a.order))
	for _, p := range a.order {
		out = append(out, FileRanges{Path: p, Ranges: MergeRanges(a.ranges[p])})
	}
	return out
}

// SortFiles orders files by path
func SortFiles(files []FileRanges) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
