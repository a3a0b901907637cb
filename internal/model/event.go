package model

import (
	"time"
)

// RenderEventType is the type of an outbound UI render event.
type RenderEventType string

const (
	EventTurnCreated     RenderEventType = "turn_created"
	EventLayerPublished  RenderEventType = "layer_published"
	EventLayerSuperseded RenderEventType = "layer_superseded"
	EventEntryCompleted  RenderEventType = "entry_completed"
)

// RenderEvent is a fire-and-forget signal for UI surfaces. It is not a
// transcript store; consumers that miss events re-read the layer endpoint.
type RenderEvent struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	SessionID string          `json:"session_id"`
	Type      RenderEventType `json:"type"`
	Turn      *Turn           `json:"turn,omitempty"`
	Layer     *LayerView      `json:"layer,omitempty"`
	Button    *ButtonState    `json:"button,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
