package session

import "sync/atomic"

// State is the stream driver lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) State {
	return State(b.v.Swap(int32(s)))
}
