package persona

// CallState represents where a persona is in a call's lifecycle.
type CallState int

const (
	StateIdle CallState = iota
	StateAnswering
	StateActive
	StateCleanup
)

// String returns the string representation of the state.
func (s CallState) String() string {
	switch s {
	case StateAnswering:
		return "answering"
	case StateActive:
		return "active"
	case StateCleanup:
		return "cleanup"
	default:
		return "idle"
	}
}
