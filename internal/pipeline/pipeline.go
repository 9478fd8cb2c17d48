// Package pipeline chains enrichment, the optional snapshot commit and
// persistence into the handler the poller calls for each complete pair.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ctxlink/internal/contextstore"
	"ctxlink/internal/diff"
	"ctxlink/internal/enricher"
	"ctxlink/internal/errors"
	"ctxlink/internal/poller"
	"ctxlink/internal/snapshot"
)

// Snapshot outcomes reported to the observer
const (
	SnapshotCommitted = "committed"
	SnapshotUnchanged = "unchanged"
	SnapshotFailed    = "failed"
	SnapshotDisabled  = "disabled"
)

// Enricher builds context records from pairs
type Enricher interface {
	Enrich(ctx context.Context, p poller.Pair) (*enricher.Result, error)
}

// Snapshotter commits files to the snapshot branch
type Snapshotter interface {
	Snapshot(ctx context.Context, req snapshot.Request) (*snapshot.Result, error)
}

// Observer receives pipeline events, typically for metrics
type Observer interface {
	ObserveResolution(source diff.Source)
	ObserveSnapshot(outcome string)
	ObserveStored(total int)
}

// Pipeline handles complete pairs
type Pipeline struct {
	enricher    Enricher
	snapshotter Snapshotter
	store       *contextstore.Store
	observer    Observer
	logger      *slog.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSnapshotter enables snapshot commits
func WithSnapshotter(s Snapshotter) Option {
	return func(p *Pipeline) { p.snapshotter = s }
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates a Pipeline
func New(e Enricher, store *contextstore.Store, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{enricher: e, store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle enriches pair, snapshots its files and stores the result. A
// snapshot failure is logged and the context is stored without a commit
// hash. Pairs already in the store are skipped, so restarts do not commit
// the same exchange twice.
func (p *Pipeline) Handle(ctx context.Context, pair poller.Pair) error {
	if _, ok := p.store.Get(pair.ID()); ok {
		p.logger.Debug("Context already stored, skipping pair", "pair", pair.ID())
		return nil
	}

	res, err := p.enricher.Enrich(ctx, pair)
	if err != nil {
		return fmt.Errorf("enrich pair %s: %w", pair.ID(), err)
	}
	p.observeResolution(res.Source)

	c := res.Context
	p.snapshot(ctx, &c)

	if err := p.store.Upsert(ctx, c); err != nil {
		return fmt.Errorf("store context %s: %w", c.ID, err)
	}
	if p.observer != nil {
		p.observer.ObserveStored(p.store.Len())
	}

	p.logger.Info("Context stored",
		"context", c.ID,
		"files", len(c.Files),
		"source", string(res.Source),
		"commit", c.CommitHash,
	)
	return nil
}

func (p *Pipeline) snapshot(ctx context.Context, c *contextstore.Context) {
	if p.snapshotter == nil {
		p.observeSnapshot(SnapshotDisabled)
		return
	}

	files := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		files = append(files, f.Path)
	}
	if len(files) == 0 {
		p.observeSnapshot(SnapshotUnchanged)
		return
	}

	res, err := p.snapshotter.Snapshot(ctx, snapshot.Request{
		ID:      c.ID,
		Message: CommitMessage(*c),
		Paths:   files,
	})
	if res != nil && res.Committed {
		c.CommitHash = res.CommitHash
		c.ParentCommitHash = res.ParentCommitHash
	}

	switch {
	case err != nil:
		p.logger.Warn("Snapshot failed, storing context without commit",
			"context", c.ID,
			"code", string(errors.CodeOf(err)),
			"error", err.Error(),
		)
		p.observeSnapshot(SnapshotFailed)
	case c.CommitHash != "":
		p.observeSnapshot(SnapshotCommitted)
	default:
		p.observeSnapshot(SnapshotUnchanged)
	}
}

func (p *Pipeline) observeSnapshot(outcome string) {
	if p.observer != nil {
		p.observer.ObserveSnapshot(outcome)
	}
}

func (p *Pipeline) observeResolution(source diff.Source) {
	if p.observer != nil {
		p.observer.ObserveResolution(source)
	}
}

const subjectLimit = 72

// CommitMessage builds the snapshot commit message: the first prompt line
// as subject, then trailers identifying the context.
func CommitMessage(c contextstore.Context) string {
	subject := strings.TrimSpace(c.Prompt)
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = strings.TrimSpace(subject[:i])
	}
	if r := []rune(subject); len(r) > subjectLimit {
		subject = string(r[:subjectLimit-3]) + "..."
	}
	if subject == "" {
		subject = "snapshot"
	}

	var sb strings.Builder
	sb.WriteString("ctxlink: ")
	sb.WriteString(subject)
	sb.WriteString("\n\nContext-Id: ")
	sb.WriteString(c.ID)
	if c.ConversationID != "" {
		sb.WriteString("\nConversation-Id: ")
		sb.WriteString(c.ConversationID)
	}
	return sb.String()
}
