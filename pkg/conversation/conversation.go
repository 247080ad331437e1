package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/tangent/pkg/ids"
)

// CondensedItem is one entry of a conversation's condensed outline. Children
// nest at most one level deep; deeper nesting is dropped during normalization.
type CondensedItem struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	SourceMessageID string          `json:"sourceMessageId"`
	Timestamp       time.Time       `json:"timestamp"`
	Children        []CondensedItem `json:"children,omitempty"`
}

// CondensedLog is the cached condensation result stored on a conversation.
type CondensedLog struct {
	Items        []CondensedItem `json:"items"`
	ParseError   bool            `json:"parseError"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Conversation owns one branch tree. Branches is the flat arena: every branch
// in the tree, root included, keyed by id. The nested Branch.Branches maps
// point at the same *Branch values; only insertBranch and removeBranch touch
// both views, which keeps them from drifting apart.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	TitleGenerated bool      `json:"titleGenerated,omitempty"`
	Branches       BranchMap `json:"branches"`
	CurrentBranch  string    `json:"currentBranch"`
	Breadcrumbs    []string  `json:"breadcrumbs,omitempty"`

	CondensedItems          []CondensedItem `json:"condensedItems,omitempty"`
	LastSummarizedMessageID string          `json:"lastSummarizedMessageId,omitempty"`
	CondensedLastUpdated    time.Time       `json:"condensedLastUpdated"`
	CondensedParseError     bool            `json:"condensedParseError,omitempty"`
	CondensedErrorMessage   string          `json:"condensedErrorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

func newConversation(title string, now time.Time) *Conversation {
	main := newMainBranch(now)
	conv := &Conversation{
		ID:            ids.New(ids.KindConversation),
		Title:         title,
		Branches:      BranchMap{main.ID: main},
		CurrentBranch: main.ID,
		CreatedAt:     now,
	}
	conv.Breadcrumbs = conv.computeBreadcrumbs(main.ID)
	return conv
}

// GetBranch looks a branch up in the flat arena.
func (c *Conversation) GetBranch(branchID string) (*Branch, bool) {
	b, ok := c.Branches[branchID]
	return b, ok
}

// MainBranch returns the root branch.
func (c *Conversation) MainBranch() *Branch {
	return c.Branches[MainBranchID]
}

// insertBranch links b under parent in both the nested view and the flat
// arena. It is the only way a branch enters a conversation besides the root.
func (c *Conversation) insertBranch(parent *Branch, b *Branch) {
	if parent.Branches == nil {
		parent.Branches = BranchMap{}
	}
	parent.Branches[b.ID] = b
	c.Branches[b.ID] = b
}

// removeBranch unlinks branchID from its parent's nested map and deletes the
// branch and its whole subtree from the flat arena. Returns false if the
// branch is the root or unknown.
func (c *Conversation) removeBranch(branchID string) bool {
	if branchID == MainBranchID {
		return false
	}
	b, ok := c.Branches[branchID]
	if !ok {
		return false
	}
	if parent, ok := c.Branches[b.ParentBranchID]; ok {
		delete(parent.Branches, branchID)
	}
	for _, id := range subtreeIDs(b) {
		delete(c.Branches, id)
	}
	return true
}

func subtreeIDs(b *Branch) []string {
	out := []string{b.ID}
	for _, child := range b.Branches {
		out = append(out, subtreeIDs(child)...)
	}
	return out
}

// computeBreadcrumbs walks parent links from branchID up to the root and
// returns the titles root-first. The parent chain is acyclic by construction,
// so the walk always terminates.
func (c *Conversation) computeBreadcrumbs(branchID string) []string {
	b, ok := c.Branches[branchID]
	if !ok {
		return nil
	}
	crumbs := []string{b.Title}
	for b.ParentBranchID != "" {
		parent, ok := c.Branches[b.ParentBranchID]
		if !ok {
			break
		}
		crumbs = append([]string{parent.Title}, crumbs...)
		b = parent
	}
	return crumbs
}

// refocus moves the conversation cursor and recomputes breadcrumbs.
func (c *Conversation) refocus(branchID string) {
	c.CurrentBranch = branchID
	c.Breadcrumbs = c.computeBreadcrumbs(branchID)
}

// LocatedMessage annotates a message with the branch that owns it.
type LocatedMessage struct {
	Message     *Message
	BranchID    string
	BranchTitle string
}

// AllMessages returns every message across every branch of the conversation,
// annotated with its owning branch, in chronological order. Ties on the
// timestamp are broken by id, which embeds the creation millis.
func (c *Conversation) AllMessages() []LocatedMessage {
	var out []LocatedMessage
	for _, b := range c.Branches {
		for _, m := range b.Messages {
			out = append(out, LocatedMessage{Message: m, BranchID: b.ID, BranchTitle: b.Title})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Message.Timestamp, out[j].Message.Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Message.ID < out[j].Message.ID
	})
	return out
}

// FindMessage scans all branches for messageID.
func (c *Conversation) FindMessage(messageID string) (*LocatedMessage, bool) {
	for _, b := range c.Branches {
		if m, ok := b.GetMessage(messageID); ok {
			return &LocatedMessage{Message: m, BranchID: b.ID, BranchTitle: b.Title}, true
		}
	}
	return nil, false
}

// relinkFromTree rebuilds the flat arena from the nested tree under main.
// The stored flat map duplicates nested subtrees on the wire, so after a load
// the nested view is authoritative; anything unreachable from the root is
// dropped.
func (c *Conversation) relinkFromTree() error {
	main, ok := c.Branches[MainBranchID]
	if !ok {
		return errors.Errorf("conversation %s has no main branch", c.ID)
	}
	flat := BranchMap{}
	var walk func(b *Branch)
	walk = func(b *Branch) {
		if b.Branches == nil {
			b.Branches = BranchMap{}
		}
		if b.Messages == nil {
			b.Messages = []*Message{}
		}
		flat[b.ID] = b
		for _, child := range b.Branches {
			walk(child)
		}
	}
	walk(main)
	c.Branches = flat
	if _, ok := c.Branches[c.CurrentBranch]; !ok {
		c.refocus(MainBranchID)
	}
	return nil
}

// applyDefaults backfills fields older persisted versions did not carry.
// Missing starred flags and condensation fields already land on their zero
// values during unmarshal; breadcrumbs are derived state and are recomputed.
func (c *Conversation) applyDefaults() {
	if len(c.Breadcrumbs) == 0 {
		c.Breadcrumbs = c.computeBreadcrumbs(c.CurrentBranch)
	}
}

// ConversationMap serializes like BranchMap: an array of [id, conversation]
// pairs in sorted-id order.
type ConversationMap map[string]*Conversation

func (cm ConversationMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(cm))
	for id := range cm {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	pairs := make([][]interface{}, 0, len(keys))
	for _, id := range keys {
		pairs = append(pairs, []interface{}{id, cm[id]})
	}
	return json.Marshal(pairs)
}

func (cm *ConversationMap) UnmarshalJSON(data []byte) error {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return errors.Wrap(err, "conversation map is not an array of pairs")
	}
	out := make(ConversationMap, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return errors.New("conversation map pair does not have two elements")
		}
		var id string
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return errors.Wrap(err, "conversation map key is not a string")
		}
		var conv Conversation
		if err := json.Unmarshal(pair[1], &conv); err != nil {
			return errors.Wrapf(err, "failed to unmarshal conversation %s", id)
		}
		out[id] = &conv
	}
	*cm = out
	return nil
}
