package streams

import "fmt"

// Status is the lifecycle state of a stream handle.
type Status int

const (
	// Requested means start_stream was sent and no acknowledgement arrived yet.
	Requested Status = iota
	// Active means the server acknowledged the stream.
	Active
	// Stopped means the stream ended normally or was cancelled locally.
	Stopped
	// Failed means the stream ended with an error.
	Failed
)

// transitions lists the legal moves out of each status. Terminal statuses
// have none.
var transitions = map[Status][]Status{
	Requested: {Active, Stopped, Failed},
	Active:    {Stopped, Failed},
}

func (s Status) String() string {
	switch s {
	case Requested:
		return "requested"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == Stopped || s == Failed
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
