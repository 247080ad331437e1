package conversation

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// SchemaVersion tags the persisted state layout.
const SchemaVersion = "1.0"

// persistedState is the single-slot wire layout. Maps travel as arrays of
// [id, value] pairs, not JSON objects.
type persistedState struct {
	Conversations         ConversationMap `json:"conversations"`
	CurrentConversationID string          `json:"currentConversationId"`
	CurrentBranch         string          `json:"currentBranch"`
	Version               string          `json:"version"`
	Timestamp             string          `json:"timestamp"`
}

func (r *Registry) snapshot() ([]byte, error) {
	state := persistedState{
		Conversations:         r.Conversations,
		CurrentConversationID: r.CurrentConversationID,
		CurrentBranch:         r.CurrentBranch,
		Version:               SchemaVersion,
		Timestamp:             r.now().UTC().Format(time.RFC3339),
	}
	return json.Marshal(state)
}

// restore rebuilds the registry from a persisted snapshot. Any validation
// failure is returned as an error and the caller treats the stored state as
// absent; restore never partially applies.
func (r *Registry) restore(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return errors.Wrap(err, "persisted state is not a JSON object")
	}
	if _, ok := keys["conversations"]; !ok {
		return errors.New("persisted state has no conversations field")
	}
	if _, ok := keys["currentConversationId"]; !ok {
		return errors.New("persisted state has no currentConversationId field")
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "failed to unmarshal persisted state")
	}
	if state.CurrentConversationID == "" {
		return errors.New("persisted state has an empty currentConversationId")
	}
	current, ok := state.Conversations[state.CurrentConversationID]
	if !ok {
		return errors.Errorf("current conversation %s not found among loaded conversations",
			state.CurrentConversationID)
	}

	for _, conv := range state.Conversations {
		if err := conv.relinkFromTree(); err != nil {
			return err
		}
		conv.applyDefaults()
	}

	r.Conversations = state.Conversations
	r.CurrentConversationID = state.CurrentConversationID
	if _, ok := current.GetBranch(state.CurrentBranch); ok {
		current.refocus(state.CurrentBranch)
	}
	r.CurrentBranch = current.CurrentBranch
	return nil
}
