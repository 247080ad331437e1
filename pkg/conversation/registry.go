package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tangent/pkg/events"
	"github.com/go-go-golems/tangent/pkg/ids"
	"github.com/go-go-golems/tangent/pkg/store"
)

// Registry is the process-wide conversation state: every conversation, plus
// the "current conversation / current branch" cursor. It is single-writer;
// every mutation runs to completion and then persists best-effort, so a
// storage failure can cost durability of the last operation but never
// corrupts in-memory state.
//
// A Registry is always constructor-injected, never a package global, so
// independent sessions can exist side by side (e.g. in tests).
type Registry struct {
	Conversations         ConversationMap
	CurrentConversationID string
	CurrentBranch         string

	slot      store.Slot
	publisher *events.Publisher
	now       func() time.Time
}

type RegistryOption func(*Registry)

// WithSlot sets the durable slot the registry persists into. Without a slot
// the registry is memory-only.
func WithSlot(slot store.Slot) RegistryOption {
	return func(r *Registry) {
		r.slot = slot
	}
}

// WithPublisher sets the mutation event publisher.
func WithPublisher(pub *events.Publisher) RegistryOption {
	return func(r *Registry) {
		r.publisher = pub
	}
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry loads the persisted state from the configured slot. If nothing
// is stored, or the stored state fails validation, it starts fresh with one
// new conversation.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		Conversations: ConversationMap{},
		now:           time.Now,
	}
	for _, option := range options {
		option(r)
	}

	if r.loadFromSlot() {
		return r
	}

	conv := newConversation(DefaultConversationTitle, r.now())
	r.Conversations[conv.ID] = conv
	r.CurrentConversationID = conv.ID
	r.CurrentBranch = conv.CurrentBranch
	r.persist()
	return r
}

// DefaultConversationTitle is used for freshly created registries and as the
// naming fallback when the summarization collaborator fails.
const DefaultConversationTitle = "New Conversation"

func (r *Registry) loadFromSlot() bool {
	if r.slot == nil {
		return false
	}
	data, ok, err := r.slot.Load(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted state, starting fresh")
		return false
	}
	if !ok {
		return false
	}
	if err := r.restore(data); err != nil {
		log.Warn().Err(err).Msg("persisted state failed validation, starting fresh")
		return false
	}
	log.Debug().
		Int("conversation_count", len(r.Conversations)).
		Str("current_conversation_id", r.CurrentConversationID).
		Msg("restored persisted state")
	return true
}

// persist writes the full registry snapshot to the slot. Failures are logged
// and swallowed: the system keeps operating in memory for that operation.
func (r *Registry) persist() {
	if r.slot == nil {
		return
	}
	data, err := r.snapshot()
	if err != nil {
		log.Warn().Err(err).Msg("failed to serialize state")
		return
	}
	if err := r.slot.Save(context.Background(), data); err != nil {
		log.Warn().Err(err).Msg("failed to persist state")
	}
}

// Persist forces a snapshot write. Collaborators that mutate cached fields on
// a conversation (e.g. the condensation cache) call this after writing.
func (r *Registry) Persist() {
	r.persist()
}

func (r *Registry) publish(topic string, ev events.Event) {
	r.publisher.Publish(topic, ev)
}

// Current returns the focused conversation, or nil if nothing is focused.
func (r *Registry) Current() *Conversation {
	if r.CurrentConversationID == "" {
		return nil
	}
	return r.Conversations[r.CurrentConversationID]
}

// CurrentBranchObj returns the focused branch of the focused conversation, or
// nil if nothing is focused.
func (r *Registry) CurrentBranchObj() *Branch {
	conv := r.Current()
	if conv == nil {
		return nil
	}
	b, _ := conv.GetBranch(conv.CurrentBranch)
	return b
}

// GetConversation looks a conversation up by id.
func (r *Registry) GetConversation(conversationID string) (*Conversation, bool) {
	conv, ok := r.Conversations[conversationID]
	return conv, ok
}

// NewConversation creates a conversation with its main branch and focuses it.
func (r *Registry) NewConversation(title string) (*Conversation, error) {
	title, err := sanitizeTitle(title)
	if err != nil {
		return nil, err
	}
	conv := newConversation(title, r.now())
	r.Conversations[conv.ID] = conv
	r.CurrentConversationID = conv.ID
	r.CurrentBranch = conv.CurrentBranch

	log.Debug().Str("conversation_id", conv.ID).Str("title", title).Msg("created conversation")
	r.persist()
	r.publish(events.TopicConversationCreated, events.Event{ConversationID: conv.ID})
	return conv, nil
}

// DeleteConversation removes a conversation. If it was focused, the cursor is
// cleared; creating a replacement is deliberately left to the caller so UI
// layers decide whether to auto-create.
func (r *Registry) DeleteConversation(conversationID string) bool {
	if _, ok := r.Conversations[conversationID]; !ok {
		return false
	}
	delete(r.Conversations, conversationID)
	if r.CurrentConversationID == conversationID {
		r.CurrentConversationID = ""
		r.CurrentBranch = ""
	}
	r.persist()
	r.publish(events.TopicConversationDeleted, events.Event{ConversationID: conversationID})
	return true
}

// SwitchConversation focuses another conversation and mirrors its branch
// cursor. Returns false if the conversation does not exist.
func (r *Registry) SwitchConversation(conversationID string) bool {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return false
	}
	r.CurrentConversationID = conv.ID
	r.CurrentBranch = conv.CurrentBranch
	r.persist()
	return true
}

// RenameConversation sets a conversation's title.
func (r *Registry) RenameConversation(conversationID string, title string) error {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return NewValidationError("conversation %s not found", conversationID)
	}
	title, err := sanitizeTitle(title)
	if err != nil {
		return err
	}
	conv.Title = title
	r.persist()
	r.publish(events.TopicConversationRenamed, events.Event{ConversationID: conversationID})
	return nil
}

// MarkTitleGenerated records that the one-time auto-rename has happened.
func (r *Registry) MarkTitleGenerated(conversationID string) {
	if conv, ok := r.Conversations[conversationID]; ok {
		conv.TitleGenerated = true
		r.persist()
	}
}

// AppendMessage validates and appends a message to a branch of the focused
// conversation, and returns the created message.
func (r *Registry) AppendMessage(branchID string, content string, sender Sender) (*Message, error) {
	conv := r.Current()
	if conv == nil {
		return nil, NewValidationError("no conversation is focused")
	}
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := ParseSender(string(sender)); err != nil {
		return nil, err
	}
	b, ok := conv.GetBranch(branchID)
	if !ok {
		return nil, NewValidationError("branch %s not found", branchID)
	}

	msg := newMessage(content, sender, r.now())
	b.Messages = append(b.Messages, msg)

	log.Trace().
		Str("conversation_id", conv.ID).
		Str("branch_id", branchID).
		Str("message_id", msg.ID).
		Str("sender", string(sender)).
		Int("branch_message_count", len(b.Messages)).
		Msg("appended message")

	r.persist()
	r.publish(events.TopicMessageAppended, events.Event{
		ConversationID: conv.ID, BranchID: branchID, MessageID: msg.ID,
	})
	return msg, nil
}

// ToggleStar flips a message's starred flag and returns the new value.
func (r *Registry) ToggleStar(branchID string, messageID string) (bool, error) {
	conv := r.Current()
	if conv == nil {
		return false, NewValidationError("no conversation is focused")
	}
	if !ids.Validate(messageID, ids.KindMessage) {
		return false, NewValidationError("invalid message id %q", messageID)
	}
	b, ok := conv.GetBranch(branchID)
	if !ok {
		return false, NewValidationError("branch %s not found", branchID)
	}
	msg, ok := b.GetMessage(messageID)
	if !ok {
		return false, NewValidationError("message %s not found in branch %s", messageID, branchID)
	}
	msg.Starred = !msg.Starred
	r.persist()
	r.publish(events.TopicMessageStarred, events.Event{
		ConversationID: conv.ID, BranchID: branchID, MessageID: messageID,
	})
	return msg.Starred, nil
}

// FindMessage resolves a message id to its owning branch within the focused
// conversation, e.g. for jump-to-message from a summary.
func (r *Registry) FindMessage(messageID string) (*LocatedMessage, bool) {
	conv := r.Current()
	if conv == nil {
		return nil, false
	}
	return conv.FindMessage(messageID)
}

// StarredMessage annotates a starred message with its conversation and branch.
type StarredMessage struct {
	Message           *Message
	ConversationID    string
	ConversationTitle string
	BranchID          string
	BranchTitle       string
}

// ListStarred collects starred messages across every conversation and branch,
// newest first.
func (r *Registry) ListStarred() []StarredMessage {
	var out []StarredMessage
	for _, conv := range r.Conversations {
		for _, b := range conv.Branches {
			for _, m := range b.Messages {
				if !m.Starred {
					continue
				}
				out = append(out, StarredMessage{
					Message:           m,
					ConversationID:    conv.ID,
					ConversationTitle: conv.Title,
					BranchID:          b.ID,
					BranchTitle:       b.Title,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Message.Timestamp, out[j].Message.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Message.ID > out[j].Message.ID
	})
	return out
}

// Fork creates a new branch off sourceMessageID. Forking is only legal from
// the branch currently being viewed: the source message must be found in
// currentBranchID itself, not merely somewhere in the conversation. The new
// branch receives a deep copy of the parent's messages up to and including the
// source message, becomes the conversation's focused branch, and is linked
// into both the parent's nested map and the flat arena.
func (r *Registry) Fork(conversationID, currentBranchID, sourceMessageID, title string) (*Branch, error) {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return nil, NewValidationError("conversation %s not found", conversationID)
	}
	if !ids.Validate(sourceMessageID, ids.KindMessage) {
		return nil, NewValidationError("invalid message id %q", sourceMessageID)
	}
	title, err := sanitizeTitle(title)
	if err != nil {
		return nil, err
	}
	parent, ok := conv.GetBranch(currentBranchID)
	if !ok {
		return nil, NewValidationError("branch %s not found", currentBranchID)
	}
	idx := parent.MessageIndex(sourceMessageID)
	if idx < 0 {
		return nil, NewValidationError("message not found in current branch")
	}

	b := &Branch{
		ID:              ids.New(ids.KindBranch),
		Title:           title,
		ParentBranchID:  parent.ID,
		ParentMessageID: sourceMessageID,
		Messages:        parent.copyMessagePrefix(idx),
		Branches:        BranchMap{},
		IsActive:        true,
		CreatedAt:       r.now(),
	}
	conv.insertBranch(parent, b)
	conv.refocus(b.ID)
	if r.CurrentConversationID == conv.ID {
		r.CurrentBranch = b.ID
	}

	log.Debug().
		Str("conversation_id", conv.ID).
		Str("branch_id", b.ID).
		Str("parent_branch_id", parent.ID).
		Str("source_message_id", sourceMessageID).
		Int("copied_messages", len(b.Messages)).
		Msg("forked branch")

	r.persist()
	r.publish(events.TopicBranchForked, events.Event{
		ConversationID: conv.ID, BranchID: b.ID, MessageID: sourceMessageID,
	})
	return b, nil
}

// SwitchBranch focuses a branch. Returns false (without error) if the branch
// id is not present in the conversation.
func (r *Registry) SwitchBranch(conversationID, branchID string) bool {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return false
	}
	if _, ok := conv.GetBranch(branchID); !ok {
		return false
	}
	conv.refocus(branchID)
	if r.CurrentConversationID == conv.ID {
		r.CurrentBranch = branchID
	}
	r.persist()
	r.publish(events.TopicBranchSwitched, events.Event{ConversationID: conv.ID, BranchID: branchID})
	return true
}

// CloseBranch soft-hides a branch. Closing is one-directional; there is no
// reopen operation. The main branch cannot be closed. If the closed branch
// was focused, focus moves to its parent (or main).
func (r *Registry) CloseBranch(conversationID, branchID string) bool {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return false
	}
	if branchID == MainBranchID {
		return false
	}
	b, ok := conv.GetBranch(branchID)
	if !ok {
		return false
	}
	b.IsActive = false
	if conv.CurrentBranch == branchID {
		next := b.ParentBranchID
		if next == "" {
			next = MainBranchID
		}
		conv.refocus(next)
		if r.CurrentConversationID == conv.ID {
			r.CurrentBranch = next
		}
	}
	r.persist()
	r.publish(events.TopicBranchClosed, events.Event{ConversationID: conv.ID, BranchID: branchID})
	return true
}

// DeleteBranch hard-removes a branch and its subtree from both tree views.
// The main branch is never deleted. If the focused branch was inside the
// deleted subtree, focus falls back to main.
func (r *Registry) DeleteBranch(conversationID, branchID string) bool {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return false
	}
	if !conv.removeBranch(branchID) {
		return false
	}
	if _, ok := conv.GetBranch(conv.CurrentBranch); !ok {
		conv.refocus(MainBranchID)
		if r.CurrentConversationID == conv.ID {
			r.CurrentBranch = MainBranchID
		}
	}
	r.persist()
	r.publish(events.TopicBranchDeleted, events.Event{ConversationID: conv.ID, BranchID: branchID})
	return true
}

// Breadcrumbs returns the branch titles from the root to branchID, or nil if
// the branch is unknown.
func (r *Registry) Breadcrumbs(conversationID, branchID string) []string {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return nil
	}
	return conv.computeBreadcrumbs(branchID)
}

// ListActive returns all active branches of a conversation as a flat list,
// in creation order.
func (r *Registry) ListActive(conversationID string) []*Branch {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return nil
	}
	var out []*Branch
	for _, b := range conv.Branches {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ProjectTree builds the navigation view of a conversation's branch tree,
// starting at main. Closed branches hide their whole subtree from the
// projection even though the branches still exist in storage.
func (r *Registry) ProjectTree(conversationID string) *TreeNode {
	conv, ok := r.Conversations[conversationID]
	if !ok {
		return nil
	}
	main := conv.MainBranch()
	if main == nil {
		return nil
	}
	return projectNode(conv, main)
}

func projectNode(conv *Conversation, b *Branch) *TreeNode {
	node := &TreeNode{
		ID:        b.ID,
		Title:     b.Title,
		IsFocused: conv.CurrentBranch == b.ID,
		Children:  []*TreeNode{},
	}
	childIDs := make([]string, 0, len(b.Branches))
	for id := range b.Branches {
		childIDs = append(childIDs, id)
	}
	sort.Strings(childIDs)
	for _, id := range childIDs {
		child := b.Branches[id]
		if !child.IsActive {
			continue
		}
		node.Children = append(node.Children, projectNode(conv, child))
	}
	return node
}

// JumpToMessage switches the focused conversation to the branch containing
// messageID. Returns false if the message cannot be found.
func (r *Registry) JumpToMessage(messageID string) bool {
	conv := r.Current()
	if conv == nil {
		return false
	}
	located, ok := conv.FindMessage(messageID)
	if !ok {
		return false
	}
	return r.SwitchBranch(conv.ID, located.BranchID)
}
