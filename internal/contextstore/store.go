package contextstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"ctxlink/internal/diff"
	"ctxlink/internal/errors"
	"ctxlink/internal/paths"
)

type lineKey struct {
	file string
	line int
}

// Store holds correlated contexts keyed by id, with a derived
// (file, line) -> ids index for lookups from the editor side.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	contexts map[string]Context
	index    map[lineKey]map[string]struct{}
}

// Open loads every context from backend and builds the line index
func Open(ctx context.Context, backend Backend, logger *slog.Logger) (*Store, error) {
	s := &Store{
		backend:  backend,
		logger:   logger,
		contexts: make(map[string]Context),
		index:    make(map[lineKey]map[string]struct{}),
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.New(errors.StoreFailed, "Failed to load contexts", err, nil)
	}
	for _, c := range loaded {
		c = normalize(c)
		s.contexts[c.ID] = c
		s.addToIndex(c)
	}

	logger.Debug("Context store opened", "contexts", len(s.contexts))
	return s, nil
}

// Upsert persists c and replaces any previous context with the same id.
// The in-memory view only changes once the backend accepted the write.
func (s *Store) Upsert(ctx context.Context, c Context) error {
	if c.ID == "" {
		return errors.New(errors.InternalError, "Context id is required", nil, nil)
	}
	c = normalize(c)

	if err := s.backend.Put(ctx, c); err != nil {
		return errors.New(errors.StoreFailed, "Failed to persist context "+c.ID, err, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.contexts[c.ID]; ok {
		s.removeFromIndex(old)
	}
	s.contexts[c.ID] = c
	s.addToIndex(c)
	return nil
}

// Get returns the context with the given id
func (s *Store) Get(id string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contexts[id]
	return c, ok
}

// Lookup returns the contexts whose ranges cover line of file, oldest first
func (s *Store) Lookup(file string, line int) []Context {
	key := lineKey{file: paths.NormalizePath(file), line: line}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index[key]
	out := make([]Context, 0, len(ids))
	for id := range ids {
		out = append(out, s.contexts[id])
	}
	sortContexts(out)
	return out
}

// List returns every context, oldest first
func (s *Store) List() []Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	sortContexts(out)
	return out
}

// Len returns the number of stored contexts
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) addToIndex(c Context) {
	forEachLine(c, func(k lineKey) {
		ids, ok := s.index[k]
		if !ok {
			ids = make(map[string]struct{})
			s.index[k] = ids
		}
		ids[c.ID] = struct{}{}
	})
}

func (s *Store) removeFromIndex(c Context) {
	forEachLine(c, func(k lineKey) {
		if ids, ok := s.index[k]; ok {
			delete(ids, c.ID)
			if len(ids) == 0 {
				delete(s.index, k)
			}
		}
	})
}

func forEachLine(c Context, fn func(lineKey)) {
	for _, f := range c.Files {
		for _, r := range f.Ranges {
			for line := r.Start; line <= r.End; line++ {
				fn(lineKey{file: f.Path, line: line})
			}
		}
	}
}

// normalize canonicalizes file paths and merges duplicate files and ranges
func normalize(c Context) Context {
	order := make([]string, 0, len(c.Files))
	byPath := make(map[string][]diff.LineRange, len(c.Files))
	for _, f := range c.Files {
		p := paths.NormalizePath(f.Path)
		if p == "" {
			continue
		}
		if _, ok := byPath[p]; !ok {
			order = append(order, p)
		}
		byPath[p] = append(byPath[p], f.Ranges...)
	}

	files := make([]diff.FileRanges, 0, len(order))
	for _, p := range order {
		files = append(files, diff.FileRanges{Path: p, Ranges: diff.MergeRanges(byPath[p])})
	}
	c.Files = files
	return c
}

func sortContexts(cs []Context) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Timestamp.Equal(cs[j].Timestamp) {
			return cs[i].Timestamp.Before(cs[j].Timestamp)
		}
		return cs[i].ID < cs[j].ID
	})
}
