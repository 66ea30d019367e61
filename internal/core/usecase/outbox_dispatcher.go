package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
	"github.com/atvirokodosprendimai/formsum/internal/core/ports"
)

// errUnroutable marks an outbox row no retry can deliver.
var errUnroutable = errors.New("unroutable outbox event")

// OutboxDispatcher polls pending submission events and hands them to a
// publisher, retrying with quadratic backoff until the retry budget is spent.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatchSuccessTotal atomic.Int64
	dispatchFailureTotal atomic.Int64
	dispatchDeadTotal    atomic.Int64
	unroutableTotal      atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchDeadTotal    int64

	// DispatchUnroutableTotal counts events dead-lettered without a publish
	// attempt. They are also included in DispatchDeadTotal.
	DispatchUnroutableTotal int64
}

type DispatcherOption func(*OutboxDispatcher)

// WithMaxRetry sets how many failed attempts dead-letter an event.
func WithMaxRetry(n int) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if n > 0 {
			d.maxRetry = n
		}
	}
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int, opts ...DispatcherOption) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	d := &OutboxDispatcher{repo: repo, publisher: publisher, interval: interval, batchSize: batchSize, maxRetry: 5}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox dispatch batch error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := d.dispatchOne(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne publishes a single row. Only repository errors are returned;
// publish failures are recorded on the row.
func (d *OutboxDispatcher) dispatchOne(ctx context.Context, event domain.OutboxEvent) error {
	envelope, err := decodeSubmissionEvent(event)
	if err != nil {
		log.Printf("outbox event dead-lettered event_id=%s topic=%s: %v", event.EventID, event.Topic, err)
		if err := d.repo.MarkDead(ctx, event.ID, event.Attempts+1, err.Error()); err != nil {
			return err
		}
		d.unroutableTotal.Add(1)
		d.dispatchDeadTotal.Add(1)
		return nil
	}

	if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
		log.Printf("outbox publish failed event_id=%s submission=%s attempt=%d: %v", event.EventID, envelope.SubmissionID, event.Attempts+1, err)
		if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
			return markErr
		}
		d.dispatchFailureTotal.Add(1)
		return nil
	}

	if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
		return err
	}
	d.dispatchSuccessTotal.Add(1)
	return nil
}

// decodeSubmissionEvent checks that a row carries a submission event this
// build knows how to publish.
func decodeSubmissionEvent(event domain.OutboxEvent) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if event.Topic != domain.TopicSubmissionAccepted {
		return envelope, fmt.Errorf("%w: unknown topic %q", errUnroutable, event.Topic)
	}
	if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: decode payload: %v", errUnroutable, err)
	}
	switch {
	case envelope.EventType != domain.EventSubmissionAccepted:
		return envelope, fmt.Errorf("%w: unknown event type %q", errUnroutable, envelope.EventType)
	case envelope.SchemaVersion < 1 || envelope.SchemaVersion > domain.CurrentEventSchemaVersion:
		return envelope, fmt.Errorf("%w: unsupported schema version %d", errUnroutable, envelope.SchemaVersion)
	case envelope.SubmissionID == "":
		return envelope, fmt.Errorf("%w: missing submission id", errUnroutable)
	case envelope.EventID != event.EventID:
		return envelope, fmt.Errorf("%w: envelope id %q does not match row %q", errUnroutable, envelope.EventID, event.EventID)
	}
	return envelope, nil
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, event domain.OutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.dispatchDeadTotal.Add(1)
		return nil
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.dispatchSuccessTotal.Load(),
		DispatchFailureTotal: d.dispatchFailureTotal.Load(),
		DispatchDeadTotal:    d.dispatchDeadTotal.Load(),

		DispatchUnroutableTotal: d.unroutableTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
