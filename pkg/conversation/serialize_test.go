package conversation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/tangent/pkg/store"
)

func TestSnapshotWireLayout(t *testing.T) {
	r, conv := newTestRegistry(t)
	_, m1 := appendExchange(t, r, MainBranchID)
	_, err := r.Fork(conv.ID, MainBranchID, m1.ID, "Wire Check")
	require.NoError(t, err)

	data, err := r.snapshot()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "conversations")
	require.Contains(t, raw, "currentConversationId")
	require.Contains(t, raw, "currentBranch")
	require.Contains(t, raw, "version")
	require.Contains(t, raw, "timestamp")

	var version string
	require.NoError(t, json.Unmarshal(raw["version"], &version))
	assert.Equal(t, SchemaVersion, version)

	// conversations is an array of [id, object] pairs, not a JSON object.
	var pairs [][]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["conversations"], &pairs))
	require.Len(t, pairs, 1)
	require.Len(t, pairs[0], 2)
	var id string
	require.NoError(t, json.Unmarshal(pairs[0][0], &id))
	assert.Equal(t, conv.ID, id)

	// The nested branches field is also an array of pairs.
	var convObj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(pairs[0][1], &convObj))
	var branchPairs [][]json.RawMessage
	require.NoError(t, json.Unmarshal(convObj["branches"], &branchPairs))
	assert.Len(t, branchPairs, 2)
}

func TestRoundTripThroughSlot(t *testing.T) {
	slot := store.NewMemorySlot()
	r := NewRegistry(WithSlot(slot))
	conv := r.Current()
	require.NotNil(t, conv)

	_, m1 := appendExchange(t, r, MainBranchID)
	b, err := r.Fork(conv.ID, MainBranchID, m1.ID, "Persisted Branch")
	require.NoError(t, err)
	_, err = r.AppendMessage(b.ID, "Only on the branch", SenderAssistant)
	require.NoError(t, err)
	_, err = r.ToggleStar(b.ID, m1.ID)
	require.NoError(t, err)

	restored := NewRegistry(WithSlot(slot))
	require.Len(t, restored.Conversations, 1)
	rConv := restored.Current()
	require.NotNil(t, rConv)
	assert.Equal(t, conv.ID, rConv.ID)
	assert.Equal(t, b.ID, rConv.CurrentBranch)
	assert.Equal(t, b.ID, restored.CurrentBranch)
	assert.Equal(t, []string{MainBranchTitle, "Persisted Branch"}, rConv.Breadcrumbs)

	// Flat arena and nested view reference the same objects after load.
	nested := rConv.MainBranch().Branches[b.ID]
	flat, ok := rConv.GetBranch(b.ID)
	require.True(t, ok)
	assert.Same(t, nested, flat)

	// Starred survives, and the parent's copy stayed unstarred.
	restoredBranch, _ := rConv.GetBranch(b.ID)
	msg, ok := restoredBranch.GetMessage(m1.ID)
	require.True(t, ok)
	assert.True(t, msg.Starred)
	mainMsg, ok := rConv.MainBranch().GetMessage(m1.ID)
	require.True(t, ok)
	assert.False(t, mainMsg.Starred)
}

func TestRestoreRejectsInvalidState(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":                    "{",
		"not an object":               `[1, 2]`,
		"missing conversations":       `{"currentConversationId": "conv_1_a", "version": "1.0"}`,
		"missing current id":          `{"conversations": [], "version": "1.0"}`,
		"null current id":             `{"conversations": [], "currentConversationId": null, "version": "1.0"}`,
		"current conversation absent": `{"conversations": [], "currentConversationId": "conv_1700000000000_abcdefghi", "version": "1.0"}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := &Registry{Conversations: ConversationMap{}}
			assert.Error(t, r.restore([]byte(payload)))
		})
	}
}

func TestCorruptSlotStartsFresh(t *testing.T) {
	slot := store.NewMemorySlot()
	require.NoError(t, slot.Save(context.Background(), []byte("%%% not json %%%")))

	r := NewRegistry(WithSlot(slot))
	require.Len(t, r.Conversations, 1)
	assert.Equal(t, DefaultConversationTitle, r.Current().Title)
}

func TestRestoreAppliesBackwardCompatibleDefaults(t *testing.T) {
	// A 1.0 state written before starred and the condensation fields existed.
	payload := `{
		"conversations": [["conv_1700000000000_abcdefghi", {
			"id": "conv_1700000000000_abcdefghi",
			"title": "Old State",
			"branches": [["main", {
				"id": "main",
				"title": "Main",
				"messages": [{
					"id": "msg_1700000000000_abcdefghi",
					"content": "hello",
					"sender": "user",
					"timestamp": "2023-11-14T22:13:20Z",
					"branchPoint": false
				}],
				"branches": [],
				"isActive": true,
				"createdAt": "2023-11-14T22:13:20Z"
			}]],
			"currentBranch": "main",
			"createdAt": "2023-11-14T22:13:20Z"
		}]],
		"currentConversationId": "conv_1700000000000_abcdefghi",
		"currentBranch": "main",
		"version": "1.0",
		"timestamp": "2023-11-14T22:13:20Z"
	}`

	r := &Registry{Conversations: ConversationMap{}}
	require.NoError(t, r.restore([]byte(payload)))

	conv := r.Conversations["conv_1700000000000_abcdefghi"]
	require.NotNil(t, conv)
	msg, ok := conv.MainBranch().GetMessage("msg_1700000000000_abcdefghi")
	require.True(t, ok)
	assert.False(t, msg.Starred)
	assert.Empty(t, conv.CondensedItems)
	assert.Empty(t, conv.LastSummarizedMessageID)
	assert.False(t, conv.CondensedParseError)
	assert.Equal(t, []string{MainBranchTitle}, conv.Breadcrumbs)
}

func TestRestoreDropsOrphanedFlatEntries(t *testing.T) {
	// The flat map claims a branch that is not reachable from main's tree.
	payload := `{
		"conversations": [["conv_1700000000000_abcdefghi", {
			"id": "conv_1700000000000_abcdefghi",
			"title": "Orphans",
			"branches": [
				["main", {"id": "main", "title": "Main", "messages": [], "branches": [], "isActive": true, "createdAt": "2023-11-14T22:13:20Z"}],
				["branch_1700000000001_bbbbbbbbb", {"id": "branch_1700000000001_bbbbbbbbb", "title": "Orphan", "parentBranchId": "branch_1700000000002_ccccccccc", "messages": [], "branches": [], "isActive": true, "createdAt": "2023-11-14T22:13:20Z"}]
			],
			"currentBranch": "branch_1700000000001_bbbbbbbbb",
			"createdAt": "2023-11-14T22:13:20Z"
		}]],
		"currentConversationId": "conv_1700000000000_abcdefghi",
		"currentBranch": "branch_1700000000001_bbbbbbbbb",
		"version": "1.0",
		"timestamp": "2023-11-14T22:13:20Z"
	}`

	r := &Registry{Conversations: ConversationMap{}}
	require.NoError(t, r.restore([]byte(payload)))

	conv := r.Conversations["conv_1700000000000_abcdefghi"]
	require.NotNil(t, conv)
	_, ok := conv.GetBranch("branch_1700000000001_bbbbbbbbb")
	assert.False(t, ok, "unreachable branches are dropped on load")
	assert.Equal(t, MainBranchID, conv.CurrentBranch, "focus falls back to main")
	assert.Equal(t, MainBranchID, r.CurrentBranch)
}
