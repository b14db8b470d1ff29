// Package events publishes domain events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	DocumentCreated  = "document.created"
	DocumentDeleted  = "document.deleted"
	OutlineRequested = "outline.requested"
	OutlineReady     = "outline.ready"
	OutlineFailed    = "outline.failed"
	ChatCompleted    = "chat.completed"
	PlanChanged      = "plan.changed"
	QuotaExceeded    = "quota.exceeded"
)

// Event is the JSON envelope published for every type.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// New wraps payload in an envelope with a fresh id.
func New(eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Emit builds and publishes an event, logging failures instead of
// returning them so a broker outage never fails a request.
func Emit(ctx context.Context, p Publisher, eventType string, payload any) {
	if p == nil {
		return
	}
	event, err := New(eventType, payload)
	if err != nil {
		slog.Error("event encode failed", "type", eventType, "err", err)
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("event publish failed", "type", eventType, "event_id", event.ID, "err", err)
	}
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
