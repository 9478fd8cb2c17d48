// Package changelog keeps a short, time-bounded history of file changes in
// the working tree so they can be matched against conversation time windows.
package changelog

import (
	"sort"
	"sync"
	"time"

	"ctxlink/internal/paths"
)

// Kind is the type of a file change
type Kind string

const (
	Create Kind = "create"
	Modify Kind = "modify"
	Delete Kind = "delete"
)

// DefaultRetention is how long events are kept
const DefaultRetention = 10 * time.Minute

// defaultExcluded are never recorded
var defaultExcluded = []string{".git", "node_modules", paths.MetaDirName}

// Event is a single observed file change
type Event struct {
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-mostly event buffer with lazy retention. It is safe for
// one writer (the watcher) and concurrent readers (the poller).
type Log struct {
	mu        sync.RWMutex
	events    []Event
	retention time.Duration
	excluded  []string
	now       func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithRetention overrides DefaultRetention
func WithRetention(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithExcluded adds directory prefixes that are never recorded
func WithExcluded(prefixes ...string) Option {
	return func(l *Log) {
		for _, p := range prefixes {
			if p = paths.NormalizePath(p); p != "" {
				l.excluded = append(l.excluded, p)
			}
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates an empty Log
func New(opts ...Option) *Log {
	l := &Log{
		retention: DefaultRetention,
		excluded:  append([]string{}, defaultExcluded...),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Excluded reports whether path is never recorded
func (l *Log) Excluded(path string) bool {
	path = paths.NormalizePath(path)
	if path == "" {
		return true
	}
	for _, prefix := range l.excluded {
		if paths.HasDirPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Append records e unless its path is excluded. It returns whether the
// event was kept.
func (l *Log) Append(e Event) bool {
	if l.Excluded(e.Path) {
		return false
	}
	e.Path = paths.NormalizePath(e.Path)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked()
	if e.Timestamp.Before(l.cutoff()) {
		return false
	}
	l.events = append(l.events, e)
	return true
}

// Record appends an event stamped with the current time
func (l *Log) Record(path string, kind Kind) bool {
	return l.Append(Event{Path: path, Kind: kind, Timestamp: l.now()})
}

// Between returns retained events with start <= Timestamp <= end, in
// insertion order.
func (l *Log) Between(start, end time.Time) []Event {
	l.purge()

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range l.events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Window returns events in [t, t+window]
func (l *Log) Window(t time.Time, window time.Duration) []Event {
	return l.Between(t, t.Add(window))
}

// PathsBetween returns the distinct paths changed in [start, end], sorted
func (l *Log) PathsBetween(start, end time.Time) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range l.Between(start, end) {
		if seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of retained events
func (l *Log) Len() int {
	l.purge()

	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) cutoff() time.Time {
	return l.now().Add(-l.retention)
}

func (l *Log) purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked()
}

// purgeLocked drops events older than the retention window
func (l *Log) purgeLocked() {
	cutoff := l.cutoff()
	kept := l.events[:0]
	for _, e := range l.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	// Clear the tail so dropped events can be collected
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = Event{}
	}
	l.events = kept
}
