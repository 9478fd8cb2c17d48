// Package enricher turns a complete pair into a context record: the files
// changed while the exchange happened, their line ranges, and the
// metadata carried by the turns.
package enricher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ctxlink/internal/contextstore"
	"ctxlink/internal/conversation"
	"ctxlink/internal/diff"
	"ctxlink/internal/errors"
	"ctxlink/internal/poller"
)

// DefaultGracePeriod extends the change window past the last reply
const DefaultGracePeriod = 60 * time.Second

// ChangeSource lists the paths touched in a time window
type ChangeSource interface {
	PathsBetween(start, end time.Time) []string
}

// RangeResolver maps candidate paths to changed line ranges
type RangeResolver interface {
	Resolve(ctx context.Context, candidates []string) *diff.Resolution
}

// Result is an enriched pair, ready for snapshotting and storage
type Result struct {
	Context    contextstore.Context
	Candidates []string
	Source     diff.Source
}

// Enricher correlates pairs with file changes
type Enricher struct {
	changes  ChangeSource
	resolver RangeResolver
	grace    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Enricher. A negative grace takes the default.
func New(changes ChangeSource, resolver RangeResolver, grace time.Duration, logger *slog.Logger) *Enricher {
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	return &Enricher{
		changes:  changes,
		resolver: resolver,
		grace:    grace,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces time.Now; used by tests
func (e *Enricher) SetClock(now func() time.Time) {
	e.now = now
}

// Window returns the change window of a pair
func (e *Enricher) Window(p poller.Pair) (start, end time.Time, ok bool) {
	last, ok := p.LastAssistant()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return p.User.CreatedAt, last.CreatedAt.Add(e.grace), true
}

// Enrich builds the context record of p. The commit hash is left empty.
func (e *Enricher) Enrich(ctx context.Context, p poller.Pair) (*Result, error) {
	start, end, ok := e.Window(p)
	if !ok {
		return nil, errors.New(errors.InternalError, "Pair has no assistant turns", nil, nil).
			WithDetails(map[string]string{"pair": p.ID()})
	}

	candidates := e.changes.PathsBetween(start, end)
	resolution := e.resolver.Resolve(ctx, candidates)

	e.logger.Debug("Resolved pair changes",
		"pair", p.ID(),
		"candidates", len(candidates),
		"files", len(resolution.Files),
		"source", string(resolution.Source),
	)

	responses := make([]string, 0, len(p.Assistants))
	for _, a := range p.Assistants {
		responses = append(responses, a.Text)
	}

	c := contextstore.Context{
		ID:             p.ID(),
		ConversationID: p.User.ConversationID,
		Prompt:         p.User.Text,
		Response:       strings.Join(responses, "\n\n"),
		Files:          resolution.Files,
		Timestamp:      e.now(),
		Metadata:       BuildMetadata(p),
	}

	return &Result{Context: c, Candidates: candidates, Source: resolution.Source}, nil
}

// BuildMetadata gathers the optional turn details of a pair
func BuildMetadata(p poller.Pair) contextstore.Metadata {
	turns := make([]conversation.Turn, 0, len(p.Assistants)+1)
	turns = append(turns, p.User)
	turns = append(turns, p.Assistants...)

	m := contextstore.Metadata{
		Model:      p.User.Model,
		Selections: p.User.Selections,
	}
	if m.Model == "" && len(p.Assistants) > 0 {
		m.Model = p.Assistants[0].Model
	}

	m.InputTokens = sumTokens(turns, func(t conversation.Turn) *int { return t.InputTokens })
	m.OutputTokens = sumTokens(turns, func(t conversation.Turn) *int { return t.OutputTokens })

	related := newOrderedSet()
	links := newOrderedSet()
	for _, t := range turns {
		related.add(t.RelatedFiles...)
		links.add(t.Links...)
	}
	m.RelatedFiles = related.items
	m.Links = links.items

	return m
}

// sumTokens returns nil when no turn reports a count
func sumTokens(turns []conversation.Turn, field func(conversation.Turn) *int) *int {
	var total *int
	for _, t := range turns {
		v := field(t)
		if v == nil {
			continue
		}
		if total == nil {
			total = new(int)
		}
		*total += *v
	}
	return total
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}
