package events

import (
	"context"

	"github.com/google/uuid"
)

const (
	TopicSignalIngested    = "signal.ingested"
	TopicPipelineCompleted = "pipeline.completed"
)

// Event is one pipeline notification appended to the external event log.
type Event struct {
	Topic    string    `json:"topic"`
	SignalID uuid.UUID `json:"signal_id"`
	Source   string    `json:"source"`
	Severity string    `json:"severity,omitempty"`
}

// Publisher appends events to an external append-only log. Publication
// failures are non-fatal to the pipeline.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
