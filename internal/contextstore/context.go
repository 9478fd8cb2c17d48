// Package contextstore persists correlated contexts and indexes them by the
// file lines they touched.
package contextstore

import (
	"time"

	"ctxlink/internal/conversation"
	"ctxlink/internal/diff"
)

// Context links one prompt/response exchange to the code it changed.
// ID is the id of the user turn that opened the exchange.
type Context struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversationId"`
	CommitHash       string            `json:"commitHash,omitempty"`
	ParentCommitHash string            `json:"parentCommitHash,omitempty"`
	Prompt           string            `json:"prompt"`
	Response         string            `json:"response"`
	Files            []diff.FileRanges `json:"files"`
	Timestamp        time.Time         `json:"timestamp"`
	Metadata         Metadata          `json:"metadata"`
}

// Metadata carries optional details gathered from the turns
type Metadata struct {
	Model        string                   `json:"model,omitempty"`
	InputTokens  *int                     `json:"inputTokens,omitempty"`
	OutputTokens *int                     `json:"outputTokens,omitempty"`
	Selections   []conversation.Selection `json:"selections,omitempty"`
	RelatedFiles []string                 `json:"relatedFiles,omitempty"`
	Links        []string                 `json:"links,omitempty"`
}
