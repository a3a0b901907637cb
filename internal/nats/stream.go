package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fastfollow-ai/followup-platform/internal/model"
)

const (
	// StreamName is the name of the render events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all render event subjects.
	SubjectPrefix = "chat"
)

// EventPublisher publishes render events to JetStream for UI surfaces.
// Events are fire-and-forget signals, not a transcript store; the stream
// keeps a short retention window so late subscribers catch recent state.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// EnsureStream ensures the render events stream exists with proper configuration.
func (p *EventPublisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      1 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024, // 1GB
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
		Description: "UI render events for chat sessions",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a render event.
func EventSubject(tenantID, sessionID string, eventType model.RenderEventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, tenantID, sessionID, eventType)
}

// SessionFilter returns the filter subject for all events in a session.
func SessionFilter(tenantID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, tenantID, sessionID)
}

// Publish implements conversation.EventSink. Publish failures are logged
// and swallowed; render events never interrupt the conversation.
func (p *EventPublisher) Publish(ctx context.Context, event *model.RenderEvent) {
	subject := EventSubject(event.TenantID, event.SessionID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		p.client.logger.Warn("failed to marshal render event", "type", event.Type, "error", err)
		return
	}

	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.client.logger.Warn("failed to publish render event",
			"subject", subject,
			"type", event.Type,
			"error", err,
		)
	}
}
