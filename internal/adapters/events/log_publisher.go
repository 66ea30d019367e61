package events

import (
	"context"
	"log"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

// LogPublisher writes submission events to the process log. It is the
// publisher used when no webhook is configured.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.Default()}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.Printf("outbox publish topic=%s event_id=%s event_type=%s submission=%s session=%s actor=%s bytes=%d", topic, event.EventID, event.EventType, event.SubmissionID, event.SessionID, event.Actor, len(event.Payload))
	return nil
}
