package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erasmusjourney/internal/testutil"
)

func TestPublisher_Publish(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel(5))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = NewPublisher(client).Publish(ctx, 5, Message{Event: EventSubmissionPublished, SubmissionID: 9})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var got Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, EventSubmissionPublished, got.Event)
		assert.Equal(t, uint(9), got.SubmissionID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "user_notify:42", Channel(42))
}
