package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxlink/internal/conversation"
	ctxerrors "ctxlink/internal/errors"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func user(id string, ms int) conversation.Turn {
	return conversation.Turn{ID: id, ConversationID: "c1", Role: conversation.RoleUser, Text: "prompt " + id, CreatedAt: at(ms)}
}

func assistant(id string, ms int, text string) conversation.Turn {
	return conversation.Turn{ID: id, ConversationID: "c1", Role: conversation.RoleAssistant, Text: text, CreatedAt: at(ms)}
}

type staticSource struct {
	mu    sync.Mutex
	turns []conversation.Turn
	err   error
	panic bool
}

func (s *staticSource) ActiveTurns(context.Context) ([]conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panic {
		panic("store exploded")
	}
	return append([]conversation.Turn(nil), s.turns...), s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statuses(evaluated []Evaluated) []Status {
	out := make([]Status, 0, len(evaluated))
	for _, e := range evaluated {
		out = append(out, e.Status)
	}
	return out
}

func TestEvaluate_ScenarioA_CompleteAfterWait(t *testing.T) {
	turns := []conversation.Turn{user("u1", 0), assistant("a1", 1000, "Added imports")}

	evaluated, _ := Evaluate(turns, at(40000), DefaultCompletionWait)
	require.Len(t, evaluated, 1)
	assert.Equal(t, Complete, evaluated[0].Status)
	assert.Equal(t, "u1", evaluated[0].Pair.ID())
	assert.True(t, evaluated[0].Last)
}

func TestEvaluate_ScenarioB_IncompleteBeforeWait(t *testing.T) {
	turns := []conversation.Turn{user("u1", 0), assistant("a1", 1000, "Working on it")}

	evaluated, _ := Evaluate(turns, at(20000), DefaultCompletionWait)
	require.Len(t, evaluated, 1)
	assert.Equal(t, Incomplete, evaluated[0].Status)
}

func TestEvaluate_ScenarioC_EarlierPairCompleteImmediately(t *testing.T) {
	turns := []conversation.Turn{
		user("u1", 0),
		assistant("a1", 1000, "first"),
		user("u2", 2000),
		assistant("a2", 2500, "second"),
	}

	evaluated, _ := Evaluate(turns, at(3000), DefaultCompletionWait)
	assert.Equal(t, []Status{Complete, Incomplete}, statuses(evaluated))

	// The last pair's clock starts at its last assistant turn
	evaluated, _ = Evaluate(turns, at(32499), DefaultCompletionWait)
	assert.Equal(t, []Status{Complete, Incomplete}, statuses(evaluated))
	evaluated, _ = Evaluate(turns, at(32500), DefaultCompletionWait)
	assert.Equal(t, []Status{Complete, Complete}, statuses(evaluated))
}

func TestBuildPairs_PairingRules(t *testing.T) {
	other := assistant("a-other", 1500, "other conversation")
	other.ConversationID = "c2"

	turns := []conversation.Turn{
		assistant("a0", -500, "before any prompt"),
		assistant("a2", 2000, "second reply"),
		user("u1", 0),
		assistant("a1", 1000, "first reply"),
		other,
		assistant("a-blank", 1800, "   \n"),
		user("u2", 5000),
		user("u3", 6000),
		assistant("a3", 7000, "third reply"),
	}

	pairs, orphans := BuildPairs(turns)
	assert.Equal(t, 1, orphans)
	require.Len(t, pairs, 2)

	assert.Equal(t, "u1", pairs[0].ID())
	ids := []string{}
	for _, a := range pairs[0].Assistants {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a1", "a2"}, ids)

	// u2 has no reply before u3 and is discarded
	assert.Equal(t, "u3", pairs[1].ID())
	require.Len(t, pairs[1].Assistants, 1)
	assert.Equal(t, "a3", pairs[1].Assistants[0].ID)

	// The input is left untouched
	assert.Equal(t, "a0", turns[0].ID)
}

func TestBuildPairs_EveryAssistantTurnInAtMostOnePair(t *testing.T) {
	turns := []conversation.Turn{
		user("u1", 0), assistant("a1", 10, "x"), assistant("a2", 20, "y"),
		user("u2", 30), assistant("a3", 40, "z"),
		user("u3", 50), assistant("a4", 60, "w"),
	}

	pairs, _ := BuildPairs(turns)
	seen := map[string]string{}
	for _, p := range pairs {
		for _, a := range p.Assistants {
			prev, dup := seen[a.ID]
			require.False(t, dup, "assistant %s in pairs %s and %s", a.ID, prev, p.ID())
			seen[a.ID] = p.ID()
			assert.True(t, a.CreatedAt.After(p.User.CreatedAt))
		}
	}
	assert.Len(t, seen, 4)
}

func TestEvaluate_FollowingPromptCompletesPreviousPair(t *testing.T) {
	tests := []struct {
		name  string
		turns []conversation.Turn
	}{
		{
			name:  "prompt without reply",
			turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done"), user("u2", 2000)},
		},
		{
			name: "prompt with empty placeholder reply",
			turns: []conversation.Turn{
				user("u1", 0), assistant("a1", 1000, "done"),
				user("u2", 2000), assistant("a2", 2500, ""),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluated, _ := Evaluate(tt.turns, at(3000), DefaultCompletionWait)
			require.Len(t, evaluated, 2)

			assert.Equal(t, "u1", evaluated[0].Pair.ID())
			assert.False(t, evaluated[0].Last)
			assert.Equal(t, Complete, evaluated[0].Status)

			assert.Equal(t, "u2", evaluated[1].Pair.ID())
			assert.True(t, evaluated[1].Last)
			assert.Empty(t, evaluated[1].Pair.Assistants)
			assert.Equal(t, Incomplete, evaluated[1].Status)
		})
	}
}

func TestPoll_FollowingPromptEmitsPreviousPairImmediately(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{
		user("u1", 0), assistant("a1", 1000, "done"),
		user("u2", 2000), assistant("a2", 2500, ""),
	}}
	var got []string
	handler := func(_ context.Context, p Pair) error {
		got = append(got, p.ID())
		return nil
	}

	stats := newTestPoller(src, handler, at(3000)).Poll(context.Background())
	assert.Equal(t, []string{"u1"}, got)
	assert.Equal(t, 2, stats.Pairs)
	assert.Equal(t, 1, stats.Emitted)

	// The reply-less pair is never emitted, however long it waits
	got = nil
	newTestPoller(src, handler, at(3600000)).Poll(context.Background())
	assert.Equal(t, []string{"u1"}, got)
}

func TestCompletionStatus_NoAssistants(t *testing.T) {
	p := Pair{User: user("u1", 0)}
	assert.Equal(t, Incomplete, CompletionStatus(p, false, at(100000), time.Second))
	assert.Equal(t, "incomplete", Incomplete.String())
	assert.Equal(t, "complete", Complete.String())
}

func newTestPoller(src conversation.Source, handler Handler, now time.Time, opts ...Option) *Poller {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(src, handler, Config{}, discard(), opts...)
}

func TestPoll_EmitsEachPairOnce(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{
		user("u1", 0), assistant("a1", 1000, "first"),
		user("u2", 2000), assistant("a2", 2500, "second"),
	}}

	var handled []string
	p := newTestPoller(src, func(_ context.Context, pair Pair) error {
		handled = append(handled, pair.ID())
		return nil
	}, at(3000))

	stats := p.Poll(context.Background())
	assert.Equal(t, 2, stats.Pairs)
	assert.Equal(t, 1, stats.Complete)
	assert.Equal(t, 1, stats.Emitted)
	assert.Equal(t, "ok", stats.Result())
	assert.NotEmpty(t, stats.ID)

	p.Poll(context.Background())
	assert.Equal(t, []string{"u1"}, handled)
	assert.True(t, p.Emitted("u1"))
	assert.False(t, p.Emitted("u2"))
}

func TestPoll_LaterCycleEmitsOnceWaitElapses(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done")}}

	now := at(20000)
	var count int
	p := New(src, func(context.Context, Pair) error {
		count++
		return nil
	}, Config{}, discard(), WithClock(func() time.Time { return now }))

	p.Poll(context.Background())
	assert.Equal(t, 0, count)

	now = at(40000)
	p.Poll(context.Background())
	p.Poll(context.Background())
	assert.Equal(t, 1, count)
}

func TestPoll_HandlerErrorRetriesNextCycle(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done")}}

	calls := 0
	p := newTestPoller(src, func(context.Context, Pair) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}, at(60000))

	stats := p.Poll(context.Background())
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, "partial", stats.Result())
	assert.False(t, p.Emitted("u1"))

	stats = p.Poll(context.Background())
	assert.Equal(t, 1, stats.Emitted)
	assert.True(t, p.Emitted("u1"))
	assert.Equal(t, 2, calls)
}

func TestPoll_FetchErrorAbortsCycle(t *testing.T) {
	src := &staticSource{err: ctxerrors.New(ctxerrors.FetchFailed, "unreadable", nil, nil)}

	p := newTestPoller(src, func(context.Context, Pair) error {
		t.Fatal("handler must not run")
		return nil
	}, at(0))

	stats := p.Poll(context.Background())
	require.Error(t, stats.Err)
	assert.True(t, ctxerrors.Is(stats.Err, ctxerrors.FetchFailed))
	assert.Equal(t, "error", stats.Result())
}

func TestPoll_PanicIsRecovered(t *testing.T) {
	src := &staticSource{panic: true}
	p := newTestPoller(src, func(context.Context, Pair) error { return nil }, at(0))

	stats := p.Poll(context.Background())
	require.Error(t, stats.Err)
	assert.Equal(t, ctxerrors.InternalError, ctxerrors.CodeOf(stats.Err))

	// The in-flight flag is cleared after a panic
	src.mu.Lock()
	src.panic = false
	src.mu.Unlock()
	stats = p.Poll(context.Background())
	assert.False(t, stats.Skipped)
	assert.NoError(t, stats.Err)
}

func TestPoll_OverlappingTickIsSkipped(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done")}}

	entered := make(chan struct{})
	release := make(chan struct{})
	var cycles []CycleStats
	var mu sync.Mutex

	p := newTestPoller(src, func(context.Context, Pair) error {
		close(entered)
		<-release
		return nil
	}, at(60000), WithCycleHook(func(s CycleStats) {
		mu.Lock()
		cycles = append(cycles, s)
		mu.Unlock()
	}))

	done := make(chan CycleStats)
	go func() { done <- p.Poll(context.Background()) }()
	<-entered

	skipped := p.Poll(context.Background())
	assert.True(t, skipped.Skipped)
	assert.Equal(t, "skipped", skipped.Result())

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Emitted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, cycles, 2)
	assert.True(t, cycles[0].Skipped)
	assert.False(t, cycles[1].Skipped)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done")}}

	var cycles atomic.Int32
	var handled atomic.Int32
	p := New(src, func(context.Context, Pair) error {
		handled.Add(1)
		return nil
	}, Config{Interval: 10 * time.Millisecond}, discard(),
		WithClock(func() time.Time { return at(60000) }),
		WithCycleHook(func(CycleStats) { cycles.Add(1) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return cycles.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), handled.Load())
}

func TestRun_WaitsForInFlightCycle(t *testing.T) {
	src := &staticSource{turns: []conversation.Turn{user("u1", 0), assistant("a1", 1000, "done")}}

	entered := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr atomic.Value

	p := New(src, func(ctx context.Context, _ Pair) error {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			handlerCtxErr.Store(err)
		}
		return nil
	}, Config{Interval: time.Hour}, discard(), WithClock(func() time.Time { return at(60000) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	<-entered
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.Nil(t, handlerCtxErr.Load(), "cycle context must survive cancellation")
	assert.True(t, p.Emitted("u1"))
}
