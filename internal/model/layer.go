package model

// EntryState is the lifecycle state of a precomputed layer entry.
type EntryState string

const (
	EntryPending EntryState = "pending"
	EntryReady   EntryState = "ready"
	EntryFailed  EntryState = "failed"
)

// ButtonState describes one follow-up button for the UI.
type ButtonState struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	State EntryState `json:"state"`
}

// LayerView is a point-in-time snapshot of the live layer's button states.
type LayerView struct {
	Token     uint64        `json:"token"`
	TurnIndex int           `json:"turn_index"`
	Buttons   []ButtonState `json:"buttons"`
}

// ServeSource records where a selected follow-up's answer came from.
type ServeSource string

const (
	// ServedFromCache means the entry was Ready and served with no backend call.
	ServedFromCache ServeSource = "cache"
	// ServedAfterWait means the entry was Pending and completed within the deadline.
	ServedAfterWait ServeSource = "waited"
	// ServedFallback means the answer was computed synchronously on demand.
	ServedFallback ServeSource = "fallback"
)
