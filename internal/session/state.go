package session

import (
	"sync"
	"time"
)

// State tracks the lifecycle of one channel session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Lifecycle tuning shared by every session manager. The values mirror the
// production defaults; none of them is load-bearing.
const (
	MaxConnectAttempts    = 3
	ConnectAttemptTimeout = 8 * time.Second
	BackoffBase           = time.Second
	BackoffCap            = 5 * time.Second
	TransitionWait        = 10 * time.Second
	UnsubscribeTimeout    = 5 * time.Second
)

// Backoff returns the delay before the given retry attempt (1-based):
// the base delay doubles per attempt and is capped.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := BackoffBase << (attempt - 1)
	if delay > BackoffCap {
		delay = BackoffCap
	}
	return delay
}

// Guard serializes lifecycle transitions for one manager instance: at most
// one initialize or cleanup may be in flight at a time, and the connection
// state only changes through the holder of the guard.
type Guard struct {
	slot chan struct{}

	mu    sync.Mutex
	state State
}

// NewGuard returns a guard in the disconnected state.
func NewGuard() *Guard {
	return &Guard{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the guard is free. Used by cleanup, which must wait
// for an in-flight initialize to settle rather than tearing down concurrently.
func (g *Guard) Acquire() {
	g.slot <- struct{}{}
}

// AcquireWithin waits up to the given bound for the guard. A false return
// means another transition is still holding it after the bound elapsed.
func (g *Guard) AcquireWithin(bound time.Duration) bool {
	select {
	case g.slot <- struct{}{}:
		return true
	case <-time.After(bound):
		return false
	}
}

// ForceRelease drops a stuck hold so later transitions are not deadlocked
// behind it. Only called after AcquireWithin times out.
func (g *Guard) ForceRelease() {
	select {
	case <-g.slot:
	default:
	}
}

// Release frees the guard for the next transition.
func (g *Guard) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// State reports the current connection state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SetState records a connection state transition.
func (g *Guard) SetState(state State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}
