package conversation

import (
	"context"

	"github.com/fastfollow-ai/followup-platform/internal/model"
)

// EventSink receives outbound render events for UI surfaces. Publishing is
// fire-and-forget; sinks must not block the conversation flow.
type EventSink interface {
	Publish(ctx context.Context, event *model.RenderEvent)
}

// NopSink discards all events. Used in tests and when NATS is disabled.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(ctx context.Context, event *model.RenderEvent) {}
