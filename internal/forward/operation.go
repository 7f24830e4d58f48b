package forward

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State tracks a distributed operation through its propagation lifecycle.
type State int

const (
	// StateInitiated: the operation exists only on the originating peer,
	// whose own context is the subject.
	StateInitiated State = iota

	// StateInFlight: the originating subject's identifier is attached to
	// the operation and it has been handed to the transport.
	StateInFlight

	// StateActiveOnPeer: at least one receiving peer resolved the
	// originator and is executing under its context.
	StateActiveOnPeer

	// StateCompleted: every hop finished and prior contexts are restored.
	// Terminal.
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateInFlight:
		return "in-flight"
	case StateActiveOnPeer:
		return "active-on-peer"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation is one logical distributed operation. It carries the ORIGINATING
// subject's identifier: a forwarding peer never substitutes its own identity,
// so every hop of a chain of any length observes the same subject.
type Operation struct {
	// ID identifies this operation instance.
	ID uuid.UUID

	// OriginatorID is the subject id of the peer that initiated the
	// operation. For node subjects this equals the originating node id.
	OriginatorID uuid.UUID

	mu         sync.Mutex
	state      State
	activeHops int
}

// NewOperation creates an operation initiated under the given subject.
func NewOperation(originatorID uuid.UUID) *Operation {
	return &Operation{
		ID:           uuid.New(),
		OriginatorID: originatorID,
		state:        StateInitiated,
	}
}

// State returns the operation's current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) markInFlight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateInitiated {
		o.state = StateInFlight
	}
}

func (o *Operation) hopStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateActiveOnPeer
	o.activeHops++
}

func (o *Operation) hopFinished() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeHops--
}

func (o *Operation) complete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateCompleted
}
