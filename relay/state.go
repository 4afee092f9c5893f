package relay

// State is a session's position in its lifecycle. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateDraining
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDraining:
		return "draining"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) canTransition(to State) bool {
	switch to {
	case StateDraining:
		return s == StateConnecting
	case StateRelaying:
		return s == StateDraining
	case StateClosed:
		return s != StateClosed
	default:
		return false
	}
}
