package seqline

import "sync/atomic"

// State is the phase of the round trip in progress.
type State uint32

const (
	IdleState         State = iota // no round trip in progress
	RequestSentState               // connecting and sending the request line
	ReplyPendingState              // waiting for the reply line
)

func (s State) String() string {
	switch s {
	case IdleState:
		return "Idle"
	case RequestSentState:
		return "RequestSent"
	case ReplyPendingState:
		return "ReplyPending"
	default:
		return "Unknown"
	}
}

type atomicState struct {
	state atomic.Uint32
}

func (st *atomicState) Get() State {
	return State(st.state.Load())
}

func (st *atomicState) Set(s State) {
	st.state.Store(uint32(s))
}
