// Package conversation reads chat turns from the external conversation store.
// Turns are owned by that store and never written here.
package conversation

import (
	"context"
	"sort"
	"time"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Selection is a code range the user attached to a prompt
type Selection struct {
	File      string `json:"file" yaml:"file"`
	StartLine int    `json:"startLine" yaml:"startLine"`
	EndLine   int    `json:"endLine" yaml:"endLine"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Turn is one message of a conversation
type Turn struct {
	ID             string    `json:"id" yaml:"id"`
	ConversationID string    `json:"conversationId" yaml:"conversationId"`
	Role           Role      `json:"role" yaml:"role"`
	Text           string    `json:"text" yaml:"text"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`

	Model        string      `json:"model,omitempty" yaml:"model,omitempty"`
	InputTokens  *int        `json:"inputTokens,omitempty" yaml:"inputTokens,omitempty"`
	OutputTokens *int        `json:"outputTokens,omitempty" yaml:"outputTokens,omitempty"`
	Selections   []Selection `json:"selections,omitempty" yaml:"selections,omitempty"`
	RelatedFiles []string    `json:"relatedFiles,omitempty" yaml:"relatedFiles,omitempty"`
	Links        []string    `json:"links,omitempty" yaml:"links,omitempty"`
}

// Source fetches the turns of the active conversation
type Source interface {
	// ActiveTurns returns every turn of the active conversation, in any order
	ActiveTurns(ctx context.Context) ([]Turn, error)
}

// SortTurns orders turns by creation time, keeping input order for ties
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}

// activeConversation returns the conversation of the most recent turn
func activeConversation(turns []Turn) string {
	var latest *Turn
	for i := range turns {
		if latest == nil || !turns[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &turns[i]
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ConversationID
}

// filterConversation keeps the turns of conversationID; an empty id selects
// the conversation with the most recent turn.
func filterConversation(turns []Turn, conversationID string) []Turn {
	if conversationID == "" {
		conversationID = activeConversation(turns)
	}
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out
}
