package collab

// Status is the connection state reported by a Manager.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	// StatusError is reported when a dial or transport error occurred; the
	// close handling that follows decides between retrying and failing.
	StatusError
	// StatusFailed means automatic retries are exhausted. Reconnect resumes.
	StatusFailed
	// StatusUnauthorized means the relay rejected the token. Nothing is
	// retried until Reconnect is called, normally with a fresh token.
	StatusUnauthorized
)

// String returns a human-readable representation of the status.
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
	case StatusFailed:
		return "failed"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}
