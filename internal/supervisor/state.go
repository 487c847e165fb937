package supervisor

// State is the lifecycle state of the shared connection.
type State int

const (
	// Idle means Connect has never been called.
	Idle State = iota
	// Connecting means the first dial of a Connect call is in flight.
	Connecting
	// Open means frames can be sent.
	Open
	// Reconnecting means the connection was lost or a dial failed and a
	// retry is scheduled or in flight.
	Reconnecting
	// Closed means Close was called or the retry budget is spent. Only an
	// explicit Connect leaves it.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsConnecting reports whether a dial is pending or scheduled.
func (s State) IsConnecting() bool {
	return s == Connecting || s == Reconnecting
}
