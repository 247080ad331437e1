package inference

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tangent/pkg/helpers"
)

// FallbackBranchNames is the fixed set a failed branch naming call falls back
// to. The pick is pseudo-random; failure here is never surfaced to the user.
var FallbackBranchNames = []string{
	"Discussion Branch",
	"Topic Exploration",
	"Deep Dive",
	"Follow-up",
	"Alternative View",
	"Detailed Analysis",
}

// FallbackConversationName is used when conversation naming fails.
const FallbackConversationName = "New Conversation"

// PickFallbackBranchName returns a pseudo-random generic branch name.
func PickFallbackBranchName() string {
	return FallbackBranchNames[rand.Intn(len(FallbackBranchNames))]
}

// BranchNameOrFallback asks the namer for a title and degrades to a generic
// pick on failure. The failure is logged at debug and swallowed.
func BranchNameOrFallback(ctx context.Context, namer BranchNamer, lastUserMessage, lastAssistantMessage, selectedText string) string {
	if namer == nil {
		return PickFallbackBranchName()
	}
	res := helpers.NewResult(namer.NameBranch(ctx, lastUserMessage, lastAssistantMessage, selectedText))
	if !res.Ok() {
		log.Debug().Err(res.Error()).Msg("branch naming failed, using fallback")
	}
	return res.OrElse(PickFallbackBranchName)
}

// ConversationNameOrFallback asks the namer for a title and degrades to
// FallbackConversationName on failure.
func ConversationNameOrFallback(ctx context.Context, namer ConversationNamer, context_ string) string {
	if namer == nil {
		return FallbackConversationName
	}
	res := helpers.NewResult(namer.NameConversation(ctx, context_))
	if !res.Ok() {
		log.Debug().Err(res.Error()).Msg("conversation naming failed, using fallback")
	}
	return res.ValueOr(FallbackConversationName)
}
