package session

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/tangent/pkg/conversation"
	"github.com/go-go-golems/tangent/pkg/inference"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _ []inference.ChatMessage, _ int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubConversationNamer struct {
	name string
	err  error
}

func (s *stubConversationNamer) NameConversation(_ context.Context, _ string) (string, error) {
	return s.name, s.err
}

type stubBranchNamer struct {
	name string
	err  error
}

func (s *stubBranchNamer) NameBranch(_ context.Context, _, _, _ string) (string, error) {
	return s.name, s.err
}

func TestSendMessageAppendsExchange(t *testing.T) {
	reg := conversation.NewRegistry()
	s := New(reg, WithCompleter(&stubCompleter{reply: "Hello there"}))

	msg, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, conversation.SenderAssistant, msg.Sender)
	assert.Equal(t, "Hello there", msg.Content)

	main := reg.Current().MainBranch()
	require.Len(t, main.Messages, 2)
	assert.Equal(t, conversation.SenderUser, main.Messages[0].Sender)
	assert.True(t, main.Messages[1].BranchPoint)
}

func TestSendMessageCompletionFailurePropagates(t *testing.T) {
	reg := conversation.NewRegistry()
	apiErr := inference.NewAPIError("complete", errors.New("provider down"))
	s := New(reg, WithCompleter(&stubCompleter{err: apiErr}))

	_, err := s.SendMessage(context.Background(), "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, apiErr)

	// No invented assistant reply; the user message stays for retry.
	main := reg.Current().MainBranch()
	require.Len(t, main.Messages, 1)
	assert.Equal(t, conversation.SenderUser, main.Messages[0].Sender)
}

func TestSendMessageValidationFailureDoesNotCallProvider(t *testing.T) {
	reg := conversation.NewRegistry()
	completer := &stubCompleter{reply: "unused"}
	s := New(reg, WithCompleter(completer))

	_, err := s.SendMessage(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, conversation.IsValidationError(err))
	assert.Equal(t, 0, completer.calls)
}

func TestAutoRenameHappensOnceAfterFirstExchange(t *testing.T) {
	reg := conversation.NewRegistry()
	conv := reg.Current()
	s := New(reg,
		WithCompleter(&stubCompleter{reply: "Sure, rust lifetimes work like this..."}),
		WithConversationNamer(&stubConversationNamer{name: "Rust Lifetimes"}),
	)

	_, err := s.SendMessage(context.Background(), "Explain rust lifetimes")
	require.NoError(t, err)
	assert.Equal(t, "Rust Lifetimes", conv.Title)
	assert.True(t, conv.TitleGenerated)

	// A later exchange must not rename again.
	s.conversationNamer = &stubConversationNamer{name: "Different Title"}
	_, err = s.SendMessage(context.Background(), "Go on")
	require.NoError(t, err)
	assert.Equal(t, "Rust Lifetimes", conv.Title)
}

func TestAutoRenameFallsBackSilently(t *testing.T) {
	reg := conversation.NewRegistry()
	conv := reg.Current()
	require.NoError(t, reg.RenameConversation(conv.ID, "Untouched"))
	s := New(reg,
		WithCompleter(&stubCompleter{reply: "ok"}),
		WithConversationNamer(&stubConversationNamer{err: errors.New("timeout")}),
	)

	_, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err, "naming failure must not block the exchange")
	assert.Equal(t, inference.FallbackConversationName, conv.Title)
	assert.True(t, conv.TitleGenerated)
}

func TestForkWithExplicitTitle(t *testing.T) {
	reg := conversation.NewRegistry()
	s := New(reg, WithCompleter(&stubCompleter{reply: "Hello there"}))

	reply, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)

	b, err := s.Fork(context.Background(), reply.ID, "Tangent", "")
	require.NoError(t, err)
	assert.Equal(t, "Tangent", b.Title)
	assert.Len(t, b.Messages, 2)
}

func TestForkAsksNamerWhenTitleEmpty(t *testing.T) {
	reg := conversation.NewRegistry()
	s := New(reg,
		WithCompleter(&stubCompleter{reply: "Hello there"}),
		WithBranchNamer(&stubBranchNamer{name: "Greeting Deep Dive"}),
	)

	reply, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)

	b, err := s.Fork(context.Background(), reply.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Greeting Deep Dive", b.Title)
}

func TestForkNamerFailureUsesGenericName(t *testing.T) {
	reg := conversation.NewRegistry()
	s := New(reg,
		WithCompleter(&stubCompleter{reply: "Hello there"}),
		WithBranchNamer(&stubBranchNamer{err: errors.New("boom")}),
	)

	reply, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)

	b, err := s.Fork(context.Background(), reply.ID, "", "some selection")
	require.NoError(t, err)
	assert.Contains(t, inference.FallbackBranchNames, b.Title)
}
