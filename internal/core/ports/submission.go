package ports

import (
	"context"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

// SubmissionStore persists accepted submissions and enqueues their events
// atomically.
type SubmissionStore interface {
	SaveWithEvent(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	Get(ctx context.Context, id string) (domain.Submission, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
