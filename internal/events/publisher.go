// Package events publishes plan lifecycle events for downstream consumers
// (notification senders, analytics). Publishing is fire-and-forget: a
// delivery failure is logged and never fails the generation run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types emitted over the run of one plan.
const (
	TypeGenerationStarted   = "generation.started"
	TypeSectionCompleted    = "section.completed"
	TypeSectionFailed       = "section.failed"
	TypeGenerationCompleted = "generation.completed"
	TypeGenerationFailed    = "generation.failed"
)

// Event is one lifecycle notification.
type Event struct {
	Type    string    `json:"type"`
	PlanID  string    `json:"plan_id"`
	State   string    `json:"state,omitempty"`
	Section int       `json:"section,omitempty"`
	Total   int       `json:"total,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher emits plan lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// natsPublisher publishes events to a NATS subject per plan.
type natsPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATS creates a Publisher over an established NATS connection.
func NewNATS(nc *nats.Conn, logger *zap.Logger) (Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &natsPublisher{nc: nc, logger: logger}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("planforged.plans.%s.%s", ev.PlanID, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// nopPublisher drops events. Used when eventing is not configured.
type nopPublisher struct{}

// NewNop returns a Publisher that discards all events.
func NewNop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(ctx context.Context, ev Event) {}

var (
	_ Publisher = (*natsPublisher)(nil)
	_ Publisher = nopPublisher{}
)
