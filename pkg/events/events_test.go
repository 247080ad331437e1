package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	p.Publish(TopicBranchForked, Event{BranchID: "branch_1700000000000_abcdefghi"})
	require.NoError(t, p.Close())
}

func TestInProcessPublishDelivers(t *testing.T) {
	pub, sub := NewInProcessPublisher()
	defer func() { _ = pub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, TopicMessageAppended)
	require.NoError(t, err)

	pub.Publish(TopicMessageAppended, Event{
		ConversationID: "conv_1700000000000_abcdefghi",
		BranchID:       "main",
		MessageID:      "msg_1700000000000_abcdefghi",
	})

	select {
	case msg := <-msgs:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, "main", ev.BranchID)
		assert.False(t, ev.At.IsZero())
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
