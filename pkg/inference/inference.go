// Package inference defines the opaque collaborator contracts the
// conversation core consumes: chat completion, branch/conversation naming,
// and outline condensation. Provider failures surface as *APIError; the
// naming contracts additionally come with deterministic fallback combinators
// so a provider failure never blocks the primary user action.
package inference

import (
	"context"
	"fmt"
)

// ChatMessage is one role-tagged line of the transcript handed to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Completer produces the assistant reply for a conversation prefix. Failures
// propagate to the caller as real errors: there is no invented reply for
// primary chat content.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, maxTokens int) (string, error)
}

// BranchNamer suggests a short title for a branch forked off an exchange.
type BranchNamer interface {
	NameBranch(ctx context.Context, lastUserMessage, lastAssistantMessage, selectedText string) (string, error)
}

// ConversationNamer suggests a short title for a conversation.
type ConversationNamer interface {
	NameConversation(ctx context.Context, context_ string) (string, error)
}

// Outliner condenses a full transcript into a JSON(-ish) outline; the
// condensation cache parses the response defensively.
type Outliner interface {
	CondenseOutline(ctx context.Context, transcript string) (string, error)
}

// APIError wraps a provider failure.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error in %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewAPIError(op string, err error) *APIError {
	return &APIError{Op: op, Err: err}
}
