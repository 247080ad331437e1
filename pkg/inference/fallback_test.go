package inference

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBranchNamer struct {
	name string
	err  error
}

func (s *stubBranchNamer) NameBranch(_ context.Context, _, _, _ string) (string, error) {
	return s.name, s.err
}

type stubConversationNamer struct {
	name string
	err  error
}

func (s *stubConversationNamer) NameConversation(_ context.Context, _ string) (string, error) {
	return s.name, s.err
}

func TestBranchNameOrFallbackUsesNamer(t *testing.T) {
	name := BranchNameOrFallback(context.Background(), &stubBranchNamer{name: "Rust Lifetimes"}, "u", "a", "")
	assert.Equal(t, "Rust Lifetimes", name)
}

func TestBranchNameOrFallbackDegradesToFixedSet(t *testing.T) {
	namer := &stubBranchNamer{err: NewAPIError("name-branch", errors.New("boom"))}
	name := BranchNameOrFallback(context.Background(), namer, "u", "a", "")
	assert.Contains(t, FallbackBranchNames, name)
}

func TestBranchNameOrFallbackHandlesNilNamer(t *testing.T) {
	name := BranchNameOrFallback(context.Background(), nil, "u", "a", "")
	assert.Contains(t, FallbackBranchNames, name)
}

func TestConversationNameOrFallback(t *testing.T) {
	name := ConversationNameOrFallback(context.Background(), &stubConversationNamer{name: "Gardening Tips"}, "ctx")
	assert.Equal(t, "Gardening Tips", name)

	failing := &stubConversationNamer{err: errors.New("boom")}
	assert.Equal(t, FallbackConversationName, ConversationNameOrFallback(context.Background(), failing, "ctx"))
}

func TestAPIErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAPIError("complete", cause)
	require.ErrorContains(t, err, "complete")
	assert.ErrorIs(t, err, cause)
}
