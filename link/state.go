package link

import "sync/atomic"

// State is the lifecycle state of a connection endpoint.
type State uint32

const (
	// ClosedState means the channel handle is invalid and no I/O is permitted.
	ClosedState State = iota
	// ConnectingState means an Init is in progress.
	ConnectingState
	// ConnectedState means the handle is open and usable.
	ConnectedState
)

func (s State) String() string {
	switch s {
	case ClosedState:
		return "Closed"
	case ConnectingState:
		return "Connecting"
	case ConnectedState:
		return "Connected"
	default:
		return "Unknown"
	}
}

// AtomicState is a State with compare-and-swap transitions:
//
//	Closed → Connecting → Connected
//	Connecting | Connected → Closed
type AtomicState struct {
	state atomic.Uint32
}

func (st *AtomicState) String() string {
	return st.Get().String()
}

// Get returns the current state.
func (st *AtomicState) Get() State {
	return State(st.state.Load())
}

// Set forces the state.
func (st *AtomicState) Set(state State) {
	st.state.Store(uint32(state))
}

func (st *AtomicState) IsClosed() bool {
	return st.Get() == ClosedState
}

func (st *AtomicState) IsConnecting() bool {
	return st.Get() == ConnectingState
}

func (st *AtomicState) IsConnected() bool {
	return st.Get() == ConnectedState
}

// ToConnecting moves Closed to Connecting. It returns false when another
// Init is already running or the link is connected.
func (st *AtomicState) ToConnecting() bool {
	return st.state.CompareAndSwap(uint32(ClosedState), uint32(ConnectingState))
}

// ToConnected moves Connecting to Connected.
func (st *AtomicState) ToConnected() bool {
	if st.IsConnected() {
		return true
	}

	return st.state.CompareAndSwap(uint32(ConnectingState), uint32(ConnectedState))
}

// ToClosed moves any state to Closed and reports whether the state changed.
func (st *AtomicState) ToClosed() bool {
	return st.state.Swap(uint32(ClosedState)) != uint32(ClosedState)
}
