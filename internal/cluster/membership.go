package cluster

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EventType enumerates membership transitions observable by listeners.
type EventType int

const (
	// EventNodeJoined fires after a node passed join validation and was added.
	EventNodeJoined EventType = iota

	// EventNodeFailed fires when a node is declared failed by the membership layer.
	EventNodeFailed

	// EventNodeLeft fires when a node leaves the grid gracefully.
	EventNodeLeft
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventNodeJoined:
		return "node-joined"
	case EventNodeFailed:
		return "node-failed"
	case EventNodeLeft:
		return "node-left"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event describes a single membership transition.
type Event struct {
	Type EventType
	Node *Node
}

// Listener receives membership events. Listeners are invoked synchronously in
// the goroutine that triggered the transition.
type Listener func(Event)

// JoinValidator inspects a joining node and rejects it by returning an error.
// Validators run before the node becomes visible to the rest of the grid; a
// rejection is fatal to that join attempt.
type JoinValidator func(*Node) error

type subscription struct {
	types map[EventType]struct{}
	fn    Listener
}

// Membership is an in-process membership view: the local node plus every peer
// currently part of the grid. It stands in for the discovery subsystem that a
// production deployment would drive from its cluster transport; the join,
// fail, and leave transitions and their event fan-out follow the same
// contract either way.
type Membership struct {
	mu         sync.RWMutex
	local      *Node
	nodes      map[uuid.UUID]*Node
	subs       []subscription
	validators []JoinValidator
}

// NewMembership creates a membership view seeded with the local node.
func NewMembership(local *Node) *Membership {
	m := &Membership{
		local: local,
		nodes: map[uuid.UUID]*Node{local.ID: local},
	}
	return m
}

// LocalNode returns the local member.
func (m *Membership) LocalNode() *Node {
	return m.local
}

// Node returns the member with the given id, if it is currently in the grid.
func (m *Membership) Node(id uuid.UUID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Nodes returns a snapshot of all current members.
func (m *Membership) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

// RegisterValidator adds a join validator. Validators registered after nodes
// have already joined apply only to subsequent joins.
func (m *Membership) RegisterValidator(v JoinValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, v)
}

// Subscribe registers a listener for the given event types. With no types the
// listener receives every event.
func (m *Membership) Subscribe(fn Listener, types ...EventType) {
	sub := subscription{fn: fn}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// Join runs every registered validator against the node and, if all pass,
// adds it to the grid and emits EventNodeJoined. A validation error rejects
// the join outright and the node never becomes visible.
func (m *Membership) Join(n *Node) error {
	m.mu.RLock()
	validators := append([]JoinValidator(nil), m.validators...)
	m.mu.RUnlock()

	for _, v := range validators {
		if err := v(n); err != nil {
			return fmt.Errorf("join validation for node %s: %w", n.ID, err)
		}
	}

	m.mu.Lock()
	m.nodes[n.ID] = n
	m.mu.Unlock()

	m.emit(Event{Type: EventNodeJoined, Node: n})
	return nil
}

// Fail removes the node and emits EventNodeFailed. Unknown ids are ignored.
func (m *Membership) Fail(id uuid.UUID) {
	if n, ok := m.remove(id); ok {
		m.emit(Event{Type: EventNodeFailed, Node: n})
	}
}

// Leave removes the node and emits EventNodeLeft. Unknown ids are ignored.
func (m *Membership) Leave(id uuid.UUID) {
	if n, ok := m.remove(id); ok {
		m.emit(Event{Type: EventNodeLeft, Node: n})
	}
}

func (m *Membership) remove(id uuid.UUID) (*Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	delete(m.nodes, id)
	return n, true
}

func (m *Membership) emit(evt Event) {
	m.mu.RLock()
	subs := append([]subscription(nil), m.subs...)
	m.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil {
			if _, ok := s.types[evt.Type]; !ok {
				continue
			}
		}
		s.fn(evt)
	}
}
