// Package notify carries user notifications over redis pub/sub to websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Event names sent to the front end.
const (
	EventSubmissionPublished = "submission_published"
	EventDestinationUpdated  = "destination_updated"
	EventPublishFailed       = "submission_publish_failed"
)

// Message is the JSON frame forwarded to the browser. Field names are part of the
// front end contract.
type Message struct {
	Event         string `json:"event"`
	SubmissionID  uint   `json:"submission_id,omitempty"`
	DestinationID uint   `json:"destination_id,omitempty"`
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Channel is the per-user redis channel.
func Channel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publisher writes messages to user channels.
type Publisher struct {
	client redis.UniversalClient
}

// NewPublisher binds a Publisher to client.
func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish sends msg to userID. Nobody listening is not an error.
func (p *Publisher) Publish(ctx context.Context, userID uint, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
