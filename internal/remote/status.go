package remote

// Status is the per-namespace connection state owned by the Manager.
type Status int

const (
	// StatusDisconnected indicates no live connection.
	StatusDisconnected Status = iota
	// StatusConnecting indicates a connect attempt is underway.
	StatusConnecting
	// StatusConnected indicates a live connection with cached tools.
	StatusConnected
	// StatusError indicates the last connect attempt failed.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
