package manager

// State is the coarse lifecycle state of a Manager.
type State string

const (
	StateStarting   State = "starting"
	StateConnecting State = "connecting"
	StateError      State = "error"
	StateConnected  State = "connected"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateClosed:     {StateStarting},
	StateStarting:   {StateConnecting, StateError, StateClosing, StateClosed},
	StateConnecting: {StateConnected, StateError, StateClosing, StateClosed},
	StateConnected:  {StateError, StateClosing, StateClosed},
	StateError:      {StateConnecting, StateClosing, StateClosed},
	StateClosing:    {StateClosed},
}

// CanTransition reports whether a Manager may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Running reports whether the state belongs to a started manager.
func (s State) Running() bool {
	return s != StateClosed
}
