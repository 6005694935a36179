package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobMessage is the unit of scheduled work carried on the queue.
// It is immutable except for RetryCount, which the consumer increments
// before republishing on a transient failure.
type JobMessage struct {
	JobID         string    `json:"job_id"`
	TickerList    []string  `json:"ticker_list"`
	ExecutionTime time.Time `json:"execution_time"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewJobMessage creates a job scheduled for executionTime with a fresh ID
// and a zero retry counter.
func NewJobMessage(tickerList []string, executionTime time.Time) *JobMessage {
	return &JobMessage{
		JobID:         uuid.New().String(),
		TickerList:    tickerList,
		ExecutionTime: executionTime,
		RetryCount:    0,
		CreatedAt:     time.Now().UTC(),
	}
}

// Encode serializes the job to its JSON wire format
// (RFC 3339 timestamps with offset).
func (m *JobMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job message: %w", err)
	}
	return body, nil
}

// DecodeJobMessage parses a queue message body into a JobMessage.
// A body that cannot be reconstructed is a terminal condition for the
// consumer, so all failures wrap ErrMalformedMessage.
func DecodeJobMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if msg.JobID == "" {
		return nil, fmt.Errorf("%w: missing job_id", ErrMalformedMessage)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id is not a valid UUID: %v", ErrMalformedMessage, err)
	}
	if len(msg.TickerList) == 0 {
		return nil, fmt.Errorf("%w: empty ticker_list", ErrMalformedMessage)
	}
	if msg.ExecutionTime.IsZero() {
		return nil, fmt.Errorf("%w: missing execution_time", ErrMalformedMessage)
	}

	return &msg, nil
}
