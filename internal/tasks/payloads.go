package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names shared by the API (producer) and the worker (consumer).
const (
	TypeSubmissionPublished = "submission:published"
	TypeDestinationRefresh  = "destination:refresh"
)

// SubmissionPublishedPayload is enqueued when an admin publishes a submission.
type SubmissionPublishedPayload struct {
	SubmissionID  uint   `json:"submission_id"`
	CorrelationID string `json:"correlation_id"`
}

// DestinationRefreshPayload asks the worker to recompute curated destination stats.
// An empty City refreshes every destination.
type DestinationRefreshPayload struct {
	City          string `json:"city,omitempty"`
	Country       string `json:"country,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// NewSubmissionPublishedTask builds the task that materialises a published submission.
func NewSubmissionPublishedTask(submissionID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SubmissionPublishedPayload{
		SubmissionID:  submissionID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission published payload: %w", err)
	}
	return asynq.NewTask(TypeSubmissionPublished, payload, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// NewDestinationRefreshTask builds a refresh task; an empty city means all destinations.
func NewDestinationRefreshTask(city, country, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DestinationRefreshPayload{
		City:          city,
		Country:       country,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal destination refresh payload: %w", err)
	}
	return asynq.NewTask(TypeDestinationRefresh, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// ParseSubmissionPublished decodes a submission:published payload.
func ParseSubmissionPublished(t *asynq.Task) (SubmissionPublishedPayload, error) {
	var p SubmissionPublishedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return p, nil
}

// ParseDestinationRefresh decodes a destination:refresh payload.
func ParseDestinationRefresh(t *asynq.Task) (DestinationRefreshPayload, error) {
	var p DestinationRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return p, nil
}
