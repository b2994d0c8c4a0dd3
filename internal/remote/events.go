package remote

// EventType identifies a reconnect progress event.
type EventType string

// Reconnect event types. One start and one complete bound the stream;
// connecting/connected/skipped/error interleave per namespace in no
// particular order.
const (
	EventStart      EventType = "start"
	EventConnecting EventType = "connecting"
	EventConnected  EventType = "connected"
	EventSkipped    EventType = "skipped"
	EventError      EventType = "error"
	EventComplete   EventType = "complete"
)

// Event is one entry in the reconnect progress stream.
type Event struct {
	Type      EventType `json:"type"`
	Namespace string    `json:"namespace,omitempty"`
	Total     int       `json:"total,omitempty"`
	Connected int       `json:"connected,omitempty"`
}

// StatusFunc receives reconnect progress events. It may be called from
// multiple goroutines but never concurrently.
type StatusFunc func(Event)
