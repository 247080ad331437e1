// Package events publishes conversation mutation events over watermill.
//
// Publishing is strictly best-effort: a failed publish is logged and swallowed
// so that an event-bus problem can never fail a user-facing mutation.
package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

const (
	TopicConversationCreated = "conversation.created"
	TopicConversationDeleted = "conversation.deleted"
	TopicConversationRenamed = "conversation.renamed"
	TopicMessageAppended     = "message.appended"
	TopicMessageStarred      = "message.starred"
	TopicBranchForked        = "branch.forked"
	TopicBranchSwitched      = "branch.switched"
	TopicBranchClosed        = "branch.closed"
	TopicBranchDeleted       = "branch.deleted"
	TopicCondensedUpdated    = "condensed.updated"
)

// Event is the JSON payload published on every topic.
type Event struct {
	ConversationID string    `json:"conversationId,omitempty"`
	BranchID       string    `json:"branchId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher fans mutation events out to a watermill publisher. The zero value
// (and a nil *Publisher) is a no-op, so wiring events up stays optional.
type Publisher struct {
	pub message.Publisher
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// NewInProcessPublisher returns a Publisher backed by a gochannel pub/sub,
// along with the subscriber side for in-process consumers.
func NewInProcessPublisher() (*Publisher, message.Subscriber) {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	return &Publisher{pub: ch}, ch
}

// Publish marshals the event and publishes it under topic. Failures are logged
// at warn and swallowed.
func (p *Publisher) Publish(topic string, ev Event) {
	if p == nil || p.pub == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := p.pub.Publish(topic, msg); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	if p == nil || p.pub == nil {
		return nil
	}
	return p.pub.Close()
}
