package session

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateLeaving
	StateLeft
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Left and Failed are terminal for a meeting attendance.
func (s State) terminal() bool { return s == StateLeft || s == StateFailed }
