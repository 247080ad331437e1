// Package condense maintains the derived, invalidatable outline of a
// conversation's full message set. Invalidation is purely positional: the
// cache is stale as soon as the message it was keyed to is no longer the last
// message of the merged, chronologically sorted set. Appending anywhere in the
// conversation therefore forces a full regeneration on next access; partial
// re-summarization is out of scope.
package condense

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tangent/pkg/conversation"
	"github.com/go-go-golems/tangent/pkg/events"
	"github.com/go-go-golems/tangent/pkg/inference"
)

// Cache drives outline generation through an Outliner and stores the result
// back onto the conversation object, which the registry then persists.
type Cache struct {
	outliner  inference.Outliner
	publisher *events.Publisher
	now       func() time.Time
}

type CacheOption func(*Cache)

func WithPublisher(pub *events.Publisher) CacheOption {
	return func(c *Cache) {
		c.publisher = pub
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(outliner inference.Outliner, options ...CacheOption) *Cache {
	c := &Cache{
		outliner: outliner,
		now:      time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// CondensedLog returns the conversation's outline, regenerating it when the
// cache is stale (or forceRefresh is set) and persisting the refreshed cache
// through the registry. An empty conversation yields an empty result without
// touching the cache.
func (c *Cache) CondensedLog(ctx context.Context, reg *conversation.Registry, conversationID string, forceRefresh bool) (conversation.CondensedLog, error) {
	conv, ok := reg.GetConversation(conversationID)
	if !ok {
		return conversation.CondensedLog{}, conversation.NewValidationError("conversation %s not found", conversationID)
	}

	msgs := conv.AllMessages()
	if len(msgs) == 0 {
		return conversation.CondensedLog{}, nil
	}

	if !forceRefresh && !c.isStale(conv, msgs) {
		return conversation.CondensedLog{
			Items:        conv.CondensedItems,
			ParseError:   conv.CondensedParseError,
			ErrorMessage: conv.CondensedErrorMessage,
		}, nil
	}

	items, parseErr, errMsg := c.regenerate(ctx, msgs)

	conv.CondensedItems = items
	conv.LastSummarizedMessageID = msgs[len(msgs)-1].Message.ID
	conv.CondensedLastUpdated = c.now()
	conv.CondensedParseError = parseErr
	conv.CondensedErrorMessage = errMsg
	reg.Persist()
	c.publisher.Publish(events.TopicCondensedUpdated, events.Event{ConversationID: conv.ID})

	return conversation.CondensedLog{Items: items, ParseError: parseErr, ErrorMessage: errMsg}, nil
}

// isStale checks whether the cached cursor message is still the last element
// of the merged set. The comparison is by index, not mere existence: a cursor
// that is present but no longer last, or cannot be found at all, both force
// regeneration.
func (c *Cache) isStale(conv *conversation.Conversation, msgs []conversation.LocatedMessage) bool {
	if len(conv.CondensedItems) == 0 {
		return true
	}
	idx := -1
	for i, m := range msgs {
		if m.Message.ID == conv.LastSummarizedMessageID {
			idx = i
			break
		}
	}
	return idx != len(msgs)-1
}

func (c *Cache) regenerate(ctx context.Context, msgs []conversation.LocatedMessage) ([]conversation.CondensedItem, bool, string) {
	transcript := Transcript(msgs)

	raw, err := c.outliner.CondenseOutline(ctx, transcript)
	if err != nil {
		log.Warn().Err(err).Msg("outline condensation failed, falling back to synthetic summary")
		return c.syntheticFallback(msgs, fmt.Sprintf("condensation failed: %v", err))
	}

	parsed, err := parseOutline(raw)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse condensed outline, falling back to synthetic summary")
		return c.syntheticFallback(msgs, fmt.Sprintf("could not parse outline response: %v", err))
	}

	return c.normalize(parsed, msgs), false, ""
}

func (c *Cache) syntheticFallback(msgs []conversation.LocatedMessage, errMsg string) ([]conversation.CondensedItem, bool, string) {
	first := msgs[0].Message
	item := conversation.CondensedItem{
		ID:              deriveItemID("Conversation Summary", first.ID),
		Title:           "Conversation Summary",
		SourceMessageID: first.ID,
		Timestamp:       first.Timestamp,
	}
	return []conversation.CondensedItem{item}, true, errMsg
}

// Transcript serializes the merged message set as role-tagged lines. Each
// line carries the message id so the outliner can reference it back.
func Transcript(msgs []conversation.LocatedMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(fmt.Sprintf("[%s] (%s): %s\n", m.Message.Sender, m.Message.ID, m.Message.Content))
	}
	return sb.String()
}

type rawItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	SourceMessageID string    `json:"sourceMessageId"`
	Children        []rawItem `json:"children"`
}

// parseOutline extracts the first bracketed JSON array from the response,
// which may be wrapped in prose, and unmarshals it.
func parseOutline(raw string) ([]rawItem, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	var items []rawItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// normalize fills in missing ids and source references, attaches timestamps,
// and trims children to a single level of nesting.
func (c *Cache) normalize(items []rawItem, msgs []conversation.LocatedMessage) []conversation.CondensedItem {
	byID := make(map[string]*conversation.Message, len(msgs))
	for _, m := range msgs {
		byID[m.Message.ID] = m.Message
	}
	firstID := msgs[0].Message.ID

	out := make([]conversation.CondensedItem, 0, len(items))
	for _, item := range items {
		normalized := normalizeItem(item, byID, firstID)
		for _, child := range item.Children {
			// Children beyond depth 1 are dropped, not recursed into.
			childItem := normalizeItem(child, byID, firstID)
			childItem.Children = nil
			normalized.Children = append(normalized.Children, childItem)
		}
		out = append(out, normalized)
	}
	return out
}

func normalizeItem(item rawItem, byID map[string]*conversation.Message, defaultSourceID string) conversation.CondensedItem {
	sourceID := item.SourceMessageID
	if sourceID == "" {
		sourceID = defaultSourceID
	}
	id := item.ID
	if id == "" {
		id = deriveItemID(item.Title, sourceID)
	}
	normalized := conversation.CondensedItem{
		ID:              id,
		Title:           item.Title,
		SourceMessageID: sourceID,
	}
	if msg, ok := byID[sourceID]; ok {
		normalized.Timestamp = msg.Timestamp
	}
	return normalized
}

// deriveItemID is deterministic in (title, sourceMessageID) so repeated runs
// on identical input produce identical ids.
func deriveItemID(title, sourceMessageID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sourceMessageID))
	return fmt.Sprintf("item_%016x", h.Sum64())
}
