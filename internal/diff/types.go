// Package diff turns version-control diff output into per-file line ranges.
package diff

import (
	"fmt"
	"sort"
)

// LineRange is an inclusive, 1-based range of lines in the new file
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line falls inside the range
func (r LineRange) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

func (r LineRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// FileRanges holds the changed ranges of one repo-relative file
type FileRanges struct {
	Path   string      `json:"path"`
	Ranges []LineRange `json:"ranges"`
}

// WholeFile is recorded when a file is known to have changed but no hunk
// information is available.
var WholeFile = LineRange{Start: 1, End: 1}

// MergeRanges sorts ranges by start and merges those that overlap or touch,
// so [10,12] and [13,15] become [10,15]. The input is not modified.
func MergeRanges(ranges []LineRange) []LineRange {
	if len(ranges) == 0 {
		return []LineRange{}
	}

	sorted := make([]LineRange, len(ranges))
	copy(sorted, ranges)
	for i := range sorted {
		if sorted[i].End < sorted[i].Start {
			sorted[i].End = sorted[i].Start
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []LineRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
