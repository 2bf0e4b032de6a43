package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Scoring event types.
const (
	EventScored          = "scored"
	EventArchived        = "archived"
	EventArchiveDeleted  = "archive_deleted"
	defaultEventsSubject = "scoring.events"
)

// ScoringEvent is published after a scoring record or archive is committed.
type ScoringEvent struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"task_id"`
	FinalScore float64   `json:"final_score"`
	Grade      string    `json:"grade,omitempty"`
	ArchiveID  string    `json:"archive_id,omitempty"`
	At         time.Time `json:"at"`
}

// EventPublisher fans scoring events out to other subsystems.
type EventPublisher interface {
	Publish(ctx context.Context, event ScoringEvent)
}

type natsEventPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewEventPublisher publishes to NATS, or drops events when conn is nil. Publishing never fails
// the operation that produced the event.
func NewEventPublisher(conn *nats.Conn, subject string, logger zerolog.Logger) EventPublisher {
	if conn == nil {
		return noopEventPublisher{}
	}
	if subject == "" {
		subject = defaultEventsSubject
	}
	return &natsEventPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *natsEventPublisher) Publish(_ context.Context, event ScoringEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode scoring event")
		return
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("type", event.Type).Str("task_id", event.TaskID).Msg("failed to publish scoring event")
	}
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, ScoringEvent) {}
