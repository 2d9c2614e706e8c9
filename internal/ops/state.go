package ops

import "fmt"

// State is the operations controller lifecycle state
type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateReady         State = "READY"
	StateActiveTrading State = "ACTIVE_TRADING"
	StatePaused        State = "PAUSED"
	StateMaintenance   State = "MAINTENANCE"
	StateEmergencyStop State = "EMERGENCY_STOP"
	StateShutdown      State = "SHUTDOWN"
)

// validTransitions lists the permitted next states. EMERGENCY_STOP is
// reachable from every non-terminal state and exits only to SHUTDOWN.
var validTransitions = map[State][]State{
	StateInitializing:  {StateReady, StateEmergencyStop},
	StateReady:         {StateActiveTrading, StateMaintenance, StateShutdown, StateEmergencyStop},
	StateActiveTrading: {StatePaused, StateMaintenance, StateShutdown, StateEmergencyStop},
	StatePaused:        {StateActiveTrading, StateMaintenance, StateShutdown, StateEmergencyStop},
	StateMaintenance:   {StateReady, StateActiveTrading, StateShutdown, StateEmergencyStop},
	StateEmergencyStop: {StateShutdown},
	StateShutdown:      {},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected state change
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}
