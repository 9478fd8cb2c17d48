// Package poller turns the active conversation into completed
// prompt/response pairs and hands each new one to a handler exactly once.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ctxlink/internal/conversation"
	"ctxlink/internal/errors"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultCompletionWait = 30 * time.Second
)

// Handler processes one complete pair. A pair is emitted again on a later
// cycle until its handler call returns nil.
type Handler func(ctx context.Context, p Pair) error

// Config holds poller timing
type Config struct {
	Interval       time.Duration
	CompletionWait time.Duration
}

// CycleStats describes one poll cycle
type CycleStats struct {
	ID       string
	Skipped  bool
	Turns    int
	Pairs    int
	Complete int
	Emitted  int
	Failed   int
	Duration time.Duration
	Err      error
}

// Result is a short label for metrics and logs
func (s CycleStats) Result() string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Err != nil:
		return "error"
	case s.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Option configures a Poller
type Option func(*Poller)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithCycleHook registers a function called after every cycle, skipped
// ones included.
func WithCycleHook(hook func(CycleStats)) Option {
	return func(p *Poller) { p.onCycle = hook }
}

// Poller periodically fetches turns and emits complete pairs
type Poller struct {
	source  conversation.Source
	handler Handler
	config  Config
	logger  *slog.Logger
	now     func() time.Time
	onCycle func(CycleStats)

	running  atomic.Bool
	inFlight sync.WaitGroup

	mu      sync.Mutex
	emitted map[string]struct{}
}

// New creates a Poller. Zero durations in cfg take the defaults.
func New(source conversation.Source, handler Handler, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CompletionWait <= 0 {
		cfg.CompletionWait = DefaultCompletionWait
	}
	p := &Poller{
		source:  source,
		handler: handler,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		emitted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate pairs turns and classifies them at now using the configured wait
func (p *Poller) Evaluate(turns []conversation.Turn, now time.Time) []Evaluated {
	evaluated, _ := Evaluate(turns, now, p.config.CompletionWait)
	return evaluated
}

// Emitted reports whether the pair with the given user turn id was handled
func (p *Poller) Emitted(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.emitted[id]
	return ok
}

// EmittedCount returns the number of pairs handled by this instance
func (p *Poller) EmittedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emitted)
}

// Poll runs one cycle. When another cycle is in flight it returns at once
// with Skipped set. Errors and panics inside the cycle are logged and
// reported in the stats; they never escape.
func (p *Poller) Poll(ctx context.Context) (stats CycleStats) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("Poll cycle still in flight, skipping tick")
		stats.Skipped = true
		p.report(stats)
		return stats
	}
	defer p.running.Store(false)

	stats.ID = uuid.NewString()
	logger := p.logger.With("cycle", stats.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			stats.Err = errors.New(errors.InternalError, fmt.Sprintf("poll cycle panicked: %v", r), nil, nil)
			logger.Error("Poll cycle panicked", "panic", fmt.Sprint(r))
		}
		stats.Duration = time.Since(start)
		p.report(stats)
	}()

	turns, err := p.source.ActiveTurns(ctx)
	if err != nil {
		stats.Err = err
		logger.Warn("Failed to fetch conversation turns",
			"code", string(errors.CodeOf(err)),
			"error", err.Error(),
		)
		return stats
	}
	stats.Turns = len(turns)

	evaluated, orphans := Evaluate(turns, p.now(), p.config.CompletionWait)
	if orphans > 0 {
		logger.Debug("Dropped assistant turns preceding the first user turn", "count", orphans)
	}
	stats.Pairs = len(evaluated)

	for _, e := range evaluated {
		if e.Status != Complete {
			continue
		}
		stats.Complete++

		id := e.Pair.ID()
		if p.Emitted(id) {
			continue
		}

		if err := p.handler(ctx, e.Pair); err != nil {
			stats.Failed++
			logger.Warn("Pair handler failed, will retry next cycle",
				"pair", id,
				"error", err.Error(),
			)
			continue
		}

		p.mu.Lock()
		p.emitted[id] = struct{}{}
		p.mu.Unlock()
		stats.Emitted++

		logger.Info("Emitted pair",
			"pair", id,
			"assistantTurns", len(e.Pair.Assistants),
		)
	}

	logger.Debug("Poll cycle finished",
		"turns", stats.Turns,
		"pairs", stats.Pairs,
		"complete", stats.Complete,
		"emitted", stats.Emitted,
	)
	return stats
}

// Run polls on every tick until ctx is cancelled, then waits for the cycle
// in flight. Cycles run with a context detached from ctx so that a commit
// or store write is never cut short by shutdown.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	detached := context.WithoutCancel(ctx)

	p.logger.Info("Poller started",
		"interval", p.config.Interval.String(),
		"completionWait", p.config.CompletionWait.String(),
	)

	p.tick(detached)
	for {
		select {
		case <-ctx.Done():
			p.inFlight.Wait()
			p.logger.Info("Poller stopped", "emitted", p.EmittedCount())
			return nil
		case <-ticker.C:
			p.tick(detached)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		p.Poll(ctx)
	}()
}

func (p *Poller) report(stats CycleStats) {
	if p.onCycle != nil {
		p.onCycle(stats)
	}
}
