package batch

// State is the lifecycle phase of the batch controller.
type State string

const (
	StateIdle       State = "IDLE"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateCancelling State = "CANCELLING"
	StateMoving     State = "MOVING"
)

// transitions lists every legal state change. Anything absent is a bug.
var transitions = map[State][]State{
	StateIdle:       {StateRunning, StateMoving},
	StateRunning:    {StatePaused, StateCancelling, StateIdle},
	StatePaused:     {StateRunning, StateCancelling, StateIdle},
	StateCancelling: {StateIdle},
	StateMoving:     {StateIdle},
}

// CanTransition reports whether the controller may go from s to next.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// RunActive reports whether a check run is in progress. Closing while a
// run is active needs confirmation; a move may be drained instead.
func (s State) RunActive() bool {
	return s == StateRunning || s == StatePaused || s == StateCancelling
}
