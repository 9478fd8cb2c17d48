package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// FetchFailed indicates the conversation store could not be read or parsed
	FetchFailed ErrorCode = "FETCH_FAILED"
	// DiffFailed indicates git diff failed or produced unparseable output
	DiffFailed ErrorCode = "DIFF_FAILED"
	// BranchFailed indicates a snapshot branch create/checkout/commit failed
	BranchFailed ErrorCode = "BRANCH_FAILED"
	// StoreFailed indicates the context store could not persist or load records
	StoreFailed ErrorCode = "STORE_FAILED"
	// NotFound indicates a requested record doesn't exist
	NotFound ErrorCode = "NOT_FOUND"
	// Timeout indicates an external command timed out
	Timeout ErrorCode = "TIMEOUT"
	// InvalidConfig indicates configuration failed validation
	InvalidConfig ErrorCode = "INVALID_CONFIG"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// Error is a coded error carrying an optional cause and suggested fixes
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error
func New(code ErrorCode, message string, cause error, suggestedFixes []FixAction) *Error {
	if suggestedFixes == nil {
		suggestedFixes = GetSuggestedFixes(code)
	}
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: suggestedFixes,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain,
// or InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return InternalError
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	for err != nil {
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.cause
	}
	return false
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	BranchFailed: {
		{
			Type:        RunCommand,
			Command:     "git status",
			Safe:        true,
			Description: "Check for an in-progress merge, rebase or conflicting local changes",
		},
	},
	FetchFailed: {
		{
			Type:        RunCommand,
			Command:     "ctxlink config show",
			Safe:        true,
			Description: "Verify conversation.source and conversation.path",
		},
	},
	StoreFailed: {
		{
			Type:        RunCommand,
			Command:     "ls -la .ctxlink",
			Safe:        true,
			Description: "Check that the .ctxlink directory is writable",
		},
	},
	InvalidConfig: {
		{
			Type:        RunCommand,
			Command:     "ctxlink config init --force",
			Safe:        false,
			Description: "Rewrite .ctxlink/config.json with defaults",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
