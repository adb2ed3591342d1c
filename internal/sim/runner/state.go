package runner

import (
	"context"
	"fmt"
	"sync"
)

// State is the orchestration state observed by operators.
type State uint8

const (
	NotReady State = iota
	Ready
	Running
	Paused
	Finished
	Error
)

var stateNames = [...]string{
	NotReady: "NOT_READY",
	Ready:    "READY",
	Running:  "RUNNING",
	Paused:   "PAUSED",
	Finished: "FINISHED",
	Error:    "ERROR",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether pause requests are ignored in s.
func (s State) Terminal() bool { return s == Finished || s == Error }

// machine guards the state and the round ceiling. Every change closes the
// current changed channel so waiters re-check without polling.
type machine struct {
	mu      sync.Mutex
	state   State
	ceiling int
	changed chan struct{}
}

func newMachine() *machine {
	return &machine{changed: make(chan struct{})}
}

func (m *machine) get() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.ceiling
}

func (m *machine) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// transition applies fn to the current state. ERROR is never left.
func (m *machine) transition(fn func(State) (State, bool)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Error {
		return false
	}
	next, ok := fn(m.state)
	if !ok || next == m.state {
		return false
	}
	m.state = next
	m.broadcastLocked()
	return true
}

func (m *machine) force(s State) bool {
	return m.transition(func(State) (State, bool) { return s, true })
}

func (m *machine) setCeiling(round int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if round < 0 {
		round = 0
	}
	m.ceiling = round
	m.broadcastLocked()
}

// fail moves to ERROR from anywhere.
func (m *machine) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Error {
		return
	}
	m.state = Error
	m.broadcastLocked()
}

// await blocks until cond holds for the current state and ceiling.
func (m *machine) await(ctx context.Context, cond func(s State, ceiling int) bool) error {
	for {
		m.mu.Lock()
		s, c, ch := m.state, m.ceiling, m.changed
		m.mu.Unlock()
		if cond(s, c) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
