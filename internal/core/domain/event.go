package domain

import (
	"encoding/json"
	"time"
)

const (
	CurrentEventSchemaVersion = 1

	EventSubmissionAccepted = "submission.accepted"

	// TopicSubmissionAccepted is the outbox topic submission events travel on.
	TopicSubmissionAccepted = "forms.submission.accepted"
)

// SubmitMetadata describes who handed a form over and through which channel.
type SubmitMetadata struct {
	Actor         string
	Source        string
	RequestID     string
	CorrelationID string
	SubmittedAt   time.Time
}

func (m SubmitMetadata) Normalize() SubmitMetadata {
	if m.Actor == "" {
		m.Actor = "anonymous"
	}
	if m.Source == "" {
		m.Source = "api"
	}
	if m.SubmittedAt.IsZero() {
		m.SubmittedAt = time.Now().UTC()
	}
	return m
}

// Submission is a validated snapshot handed to the persistence collaborator.
type Submission struct {
	ID          string
	SessionID   string
	Data        json.RawMessage
	Meta        SubmitMetadata
	SubmittedAt time.Time
}

type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	SubmissionID  string          `json:"submission_id"`
	SessionID     string          `json:"session_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	Actor         string          `json:"actor"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
