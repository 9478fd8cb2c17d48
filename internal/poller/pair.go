package poller

import (
	"strings"
	"time"

	"ctxlink/internal/conversation"
)

// Pair is one user turn and the assistant turns that answered it
type Pair struct {
	User       conversation.Turn
	Assistants []conversation.Turn
}

// ID is the id of the user turn
func (p Pair) ID() string {
	return p.User.ID
}

// LastAssistant returns the most recent assistant turn; ok is false when
// the pair has none.
func (p Pair) LastAssistant() (turn conversation.Turn, ok bool) {
	if len(p.Assistants) == 0 {
		return conversation.Turn{}, false
	}
	return p.Assistants[len(p.Assistants)-1], true
}

// Status is the completion state of a pair
type Status int

const (
	Incomplete Status = iota
	Complete
)

func (s Status) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

// Evaluated is a pair with its completion status
type Evaluated struct {
	Pair   Pair
	Status Status
	// Last marks the most recent pair, the only one subject to the wait
	Last bool
}

// BuildPairs sorts a copy of turns by creation time and groups them into
// pairs. An assistant turn joins the pair of the user turn before it only
// when its text is non-blank and it shares that turn's conversation.
// A pair without such a turn is discarded once another user turn follows
// it; the final pair is always kept so that it, not the exchange before
// it, is the most recent one. orphans counts assistant turns seen before
// any user turn.
func BuildPairs(turns []conversation.Turn) (pairs []Pair, orphans int) {
	sorted := make([]conversation.Turn, len(turns))
	copy(sorted, turns)
	conversation.SortTurns(sorted)

	pairs = make([]Pair, 0)
	var current *Pair

	closeCurrent := func() {
		if current != nil && len(current.Assistants) > 0 {
			pairs = append(pairs, *current)
		}
	}

	for _, t := range sorted {
		switch t.Role {
		case conversation.RoleUser:
			closeCurrent()
			current = &Pair{User: t}
		case conversation.RoleAssistant:
			if current == nil {
				orphans++
				continue
			}
			if strings.TrimSpace(t.Text) == "" || t.ConversationID != current.User.ConversationID {
				continue
			}
			current.Assistants = append(current.Assistants, t)
		}
	}
	if current != nil {
		pairs = append(pairs, *current)
	}

	return pairs, orphans
}

// CompletionStatus decides whether a pair is complete. Pairs followed by
// another pair are complete; the last one is complete once wait has
// elapsed since its last assistant turn.
func CompletionStatus(p Pair, last bool, now time.Time, wait time.Duration) Status {
	lastTurn, ok := p.LastAssistant()
	if !ok {
		return Incomplete
	}
	if !last {
		return Complete
	}
	if now.Sub(lastTurn.CreatedAt) >= wait {
		return Complete
	}
	return Incomplete
}

// Evaluate pairs turns and classifies every pair at time now
func Evaluate(turns []conversation.Turn, now time.Time, wait time.Duration) (evaluated []Evaluated, orphans int) {
	pairs, orphans := BuildPairs(turns)

	evaluated = make([]Evaluated, 0, len(pairs))
	for i, p := range pairs {
		last := i == len(pairs)-1
		evaluated = append(evaluated, Evaluated{
			Pair:   p,
			Status: CompletionStatus(p, last, now, wait),
			Last:   last,
		})
	}
	return evaluated, orphans
}
