package session

// State is the lifecycle position of a capture session.
type State string

const (
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateCaptured    State = "captured" // frame frozen, score pending
	StateScored      State = "scored"
	StateSaved       State = "saved"
	StateStreamError State = "stream_error"
	StateClosed      State = "closed"
)

// Terminal reports whether no operator command other than Stop can leave s.
func (s State) Terminal() bool {
	return s == StateSaved || s == StateClosed
}

// Op names an operator command or internal event.
type Op string

const (
	OpStart      Op = "start"
	OpCapture    Op = "capture"
	OpScoreReady Op = "score_ready"
	OpRetake     Op = "retake"
	OpSave       Op = "save"
	OpRetry      Op = "retry"
	OpStop       Op = "stop"
)

// transitions lists the ops accepted from each state. Stop is handled
// separately: it is accepted from every state but Closed.
var transitions = map[State]map[Op]bool{
	StateIdle:        {OpStart: true},
	StateStreaming:   {OpCapture: true},
	StateCaptured:    {OpScoreReady: true, OpRetake: true},
	StateScored:      {OpRetake: true, OpSave: true},
	StateStreamError: {OpRetry: true},
}

// CanTransition reports whether op is legal from state.
func CanTransition(from State, op Op) bool {
	if op == OpStop {
		return from != StateClosed
	}
	return transitions[from][op]
}
