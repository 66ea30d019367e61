package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type submissionModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	SessionID     string    `gorm:"column:session_id;not null"`
	DataJSON      string    `gorm:"column:data_json;not null"`
	Actor         string    `gorm:"column:actor;not null"`
	Source        string    `gorm:"column:source;not null"`
	RequestID     string    `gorm:"column:request_id;not null"`
	CorrelationID string    `gorm:"column:correlation_id;not null"`
	SubmittedAt   time.Time `gorm:"column:submitted_at;not null"`
}

func (submissionModel) TableName() string {
	return "submissions"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// SubmissionStore writes a submission and its outbox event in one transaction.
type SubmissionStore struct {
	db *gormsqlite.DB
}

func NewSubmissionStore(db *gormsqlite.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) SaveWithEvent(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if !json.Valid(sub.Data) {
		return domain.Submission{}, fmt.Errorf("%w: submission data is not valid json", domain.ErrInvalidData)
	}
	sub.Meta = sub.Meta.Normalize()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = sub.Meta.SubmittedAt
	}
	sub.SubmittedAt = sub.SubmittedAt.UTC()

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		model := submissionModel{
			ID:            sub.ID,
			SessionID:     sub.SessionID,
			DataJSON:      string(sub.Data),
			Actor:         sub.Meta.Actor,
			Source:        sub.Meta.Source,
			RequestID:     sub.Meta.RequestID,
			CorrelationID: sub.Meta.CorrelationID,
			SubmittedAt:   sub.SubmittedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}

		envelope := domain.EventEnvelope{
			EventID:       uuid.NewString(),
			EventType:     domain.EventSubmissionAccepted,
			SchemaVersion: domain.CurrentEventSchemaVersion,
			SubmissionID:  sub.ID,
			SessionID:     sub.SessionID,
			OccurredAt:    sub.SubmittedAt,
			CorrelationID: sub.Meta.CorrelationID,
			Actor:         sub.Meta.Actor,
			Source:        sub.Meta.Source,
			Payload:       sub.Data,
		}
		return insertOutbox(tx.DB, envelope)
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (s *SubmissionStore) Get(ctx context.Context, id string) (domain.Submission, error) {
	var row submissionModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Submission{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	submittedAt := row.SubmittedAt.UTC()
	return domain.Submission{
		ID:        row.ID,
		SessionID: row.SessionID,
		Data:      json.RawMessage(row.DataJSON),
		Meta: domain.SubmitMetadata{
			Actor:         row.Actor,
			Source:        row.Source,
			RequestID:     row.RequestID,
			CorrelationID: row.CorrelationID,
			SubmittedAt:   submittedAt,
		},
		SubmittedAt: submittedAt,
	}, nil
}

func insertOutbox(tx *gorm.DB, envelope domain.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	now := time.Now().UTC()
	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Topic:         domain.TopicSubmissionAccepted,
		PayloadJSON:   string(payload),
		Status:        "pending",
		Attempts:      0,
		NextAttemptAt: now,
		LastError:     "",
		CreatedAt:     now,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
