// Package session composes the conversation registry with the inference
// collaborators into the operation surface a UI drives: send a message and get
// the assistant's reply, fork with an AI-suggested name, refresh the outline.
//
// Error policy per call site: primary chat completion failures propagate to
// the caller as real errors (no invented assistant reply); naming and
// summarization failures degrade to deterministic fallbacks and are never
// surfaced to the user.
package session

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tangent/pkg/condense"
	"github.com/go-go-golems/tangent/pkg/conversation"
	"github.com/go-go-golems/tangent/pkg/inference"
)

// DefaultMaxTokens bounds the completion response size.
const DefaultMaxTokens = 1024

type Session struct {
	registry          *conversation.Registry
	completer         inference.Completer
	branchNamer       inference.BranchNamer
	conversationNamer inference.ConversationNamer
	condenser         *condense.Cache
	maxTokens         int
}

type Option func(*Session)

func WithCompleter(c inference.Completer) Option {
	return func(s *Session) {
		s.completer = c
	}
}

func WithBranchNamer(n inference.BranchNamer) Option {
	return func(s *Session) {
		s.branchNamer = n
	}
}

func WithConversationNamer(n inference.ConversationNamer) Option {
	return func(s *Session) {
		s.conversationNamer = n
	}
}

func WithCondenser(c *condense.Cache) Option {
	return func(s *Session) {
		s.condenser = c
	}
}

func WithMaxTokens(n int) Option {
	return func(s *Session) {
		s.maxTokens = n
	}
}

func New(registry *conversation.Registry, options ...Option) *Session {
	s := &Session{
		registry:  registry,
		maxTokens: DefaultMaxTokens,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Registry exposes the underlying state for read operations the session does
// not wrap.
func (s *Session) Registry() *conversation.Registry {
	return s.registry
}

// SendMessage appends the user's message to the focused branch, obtains the
// assistant reply, and appends it. A completion failure is returned to the
// caller; the user message stays appended so a retry does not lose input.
// After the first full exchange the conversation is auto-renamed once.
func (s *Session) SendMessage(ctx context.Context, content string) (*conversation.Message, error) {
	conv := s.registry.Current()
	if conv == nil {
		return nil, conversation.NewValidationError("no conversation is focused")
	}
	branch := s.registry.CurrentBranchObj()
	if branch == nil {
		return nil, conversation.NewValidationError("no branch is focused")
	}
	if s.completer == nil {
		return nil, inference.NewAPIError("complete", errNoCompleter)
	}

	userMsg, err := s.registry.AppendMessage(branch.ID, content, conversation.SenderUser)
	if err != nil {
		return nil, err
	}

	prompt := make([]inference.ChatMessage, 0, len(branch.Messages))
	for _, m := range branch.Messages {
		prompt = append(prompt, inference.ChatMessage{Role: string(m.Sender), Content: m.Content})
	}

	reply, err := s.completer.Complete(ctx, prompt, s.maxTokens)
	if err != nil {
		log.Warn().Err(err).Str("branch_id", branch.ID).Msg("chat completion failed")
		return nil, err
	}

	assistantMsg, err := s.registry.AppendMessage(branch.ID, reply, conversation.SenderAssistant)
	if err != nil {
		return nil, err
	}

	s.maybeAutoRename(ctx, conv, userMsg, assistantMsg)
	return assistantMsg, nil
}

// maybeAutoRename renames the conversation once, after its first exchange on
// the main branch. Naming failures fall back silently.
func (s *Session) maybeAutoRename(ctx context.Context, conv *conversation.Conversation, userMsg, assistantMsg *conversation.Message) {
	if conv.TitleGenerated {
		return
	}
	main := conv.MainBranch()
	if main == nil || len(main.Messages) < 2 {
		return
	}
	name := inference.ConversationNameOrFallback(ctx, s.conversationNamer,
		"[user]: "+userMsg.Content+"\n[assistant]: "+assistantMsg.Content)
	if err := s.registry.RenameConversation(conv.ID, name); err != nil {
		log.Debug().Err(err).Msg("auto-rename produced an invalid title, keeping the old one")
	}
	s.registry.MarkTitleGenerated(conv.ID)
}

// Fork branches off a message of the focused branch. An empty title asks the
// branch namer for one, degrading to a generic name; selectedText optionally
// narrows the naming context to the substring the user selected.
func (s *Session) Fork(ctx context.Context, sourceMessageID, title, selectedText string) (*conversation.Branch, error) {
	conv := s.registry.Current()
	if conv == nil {
		return nil, conversation.NewValidationError("no conversation is focused")
	}
	branch := s.registry.CurrentBranchObj()
	if branch == nil {
		return nil, conversation.NewValidationError("no branch is focused")
	}
	if title == "" {
		lastUser, lastAssistant := namingContext(branch, sourceMessageID)
		title = inference.BranchNameOrFallback(ctx, s.branchNamer, lastUser, lastAssistant, selectedText)
	}
	return s.registry.Fork(conv.ID, branch.ID, sourceMessageID, title)
}

// namingContext picks the exchange around the branch point: the source message
// (normally the assistant reply) and the closest user message before it.
func namingContext(branch *conversation.Branch, sourceMessageID string) (string, string) {
	idx := branch.MessageIndex(sourceMessageID)
	if idx < 0 {
		return "", ""
	}
	lastAssistant := branch.Messages[idx].Content
	for i := idx; i >= 0; i-- {
		if branch.Messages[i].Sender == conversation.SenderUser {
			return branch.Messages[i].Content, lastAssistant
		}
	}
	return "", lastAssistant
}

// Outline returns the focused conversation's condensed log.
func (s *Session) Outline(ctx context.Context, forceRefresh bool) (conversation.CondensedLog, error) {
	conv := s.registry.Current()
	if conv == nil {
		return conversation.CondensedLog{}, conversation.NewValidationError("no conversation is focused")
	}
	if s.condenser == nil {
		return conversation.CondensedLog{}, conversation.NewValidationError("no condenser configured")
	}
	return s.condenser.CondensedLog(ctx, s.registry, conv.ID, forceRefresh)
}

var errNoCompleter = errors.New("no completer configured")
