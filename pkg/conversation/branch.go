package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// MainBranchID is the reserved id of every conversation's root branch. The
// root is created exactly once, at conversation creation, and cannot be closed
// or deleted.
const MainBranchID = "main"

// MainBranchTitle is the root branch's display title.
const MainBranchTitle = "Main"

// Branch is one node of a conversation's branch tree. Messages are
// append-only; structural changes go through the Registry so that the nested
// children map and the conversation's flat map stay in lockstep.
type Branch struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	ParentBranchID  string     `json:"parentBranchId,omitempty"`
	ParentMessageID string     `json:"parentMessageId,omitempty"`
	Messages        []*Message `json:"messages"`
	Branches        BranchMap  `json:"branches"`
	IsActive        bool       `json:"isActive"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func newMainBranch(now time.Time) *Branch {
	return &Branch{
		ID:        MainBranchID,
		Title:     MainBranchTitle,
		Messages:  []*Message{},
		Branches:  BranchMap{},
		IsActive:  true,
		CreatedAt: now,
	}
}

// IsMain reports whether this is the conversation's root branch.
func (b *Branch) IsMain() bool {
	return b.ID == MainBranchID
}

// MessageIndex returns the position of messageID in the branch, or -1.
func (b *Branch) MessageIndex(messageID string) int {
	for i, m := range b.Messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// GetMessage returns the message with the given id, if present.
func (b *Branch) GetMessage(messageID string) (*Message, bool) {
	if idx := b.MessageIndex(messageID); idx >= 0 {
		return b.Messages[idx], true
	}
	return nil, false
}

// copyMessagePrefix deep-copies messages [0, endIndex] inclusive.
func (b *Branch) copyMessagePrefix(endIndex int) []*Message {
	out := make([]*Message, 0, endIndex+1)
	for _, m := range b.Messages[:endIndex+1] {
		out = append(out, m.Clone())
	}
	return out
}

// BranchMap is a keyed lookup of branches. It serializes as an array of
// [id, branch] pairs (sorted by id, which for generated ids is creation order)
// rather than a JSON object, matching the persisted state layout.
type BranchMap map[string]*Branch

func (bm BranchMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(bm))
	for id := range bm {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	pairs := make([][]interface{}, 0, len(keys))
	for _, id := range keys {
		pairs = append(pairs, []interface{}{id, bm[id]})
	}
	return json.Marshal(pairs)
}

func (bm *BranchMap) UnmarshalJSON(data []byte) error {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return errors.Wrap(err, "branch map is not an array of pairs")
	}
	out := make(BranchMap, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return errors.New("branch map pair does not have two elements")
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return errors.Wrap(err, "branch map key is not a string")
		}
		var b Branch
		if err := json.Unmarshal(pair[1], &b); err != nil {
			return errors.Wrapf(err, "failed to unmarshal branch %s", id)
		}
		out[id] = &b
	}
	*bm = out
	return nil
}

// TreeNode is the navigation projection of a branch subtree: closed branches
// and everything beneath them are omitted, even though they remain in storage.
type TreeNode struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	IsFocused bool        `json:"isActive"`
	Children  []*TreeNode `json:"children"`
}
