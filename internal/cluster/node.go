package cluster

import (
	"sync"

	"github.com/google/uuid"
)

// Node describes one member of the grid: its stable identifier, human-readable
// name, advertised address, and the attribute set it published at join time.
//
// Attributes are the only mutable part of a Node and may be written solely by
// the owning process before the node joins; after that, peers treat them as a
// read-only snapshot. The attribute map is guarded for the local pre-join
// writes racing with remote reads in tests and in-process deployments.
type Node struct {
	// ID is the stable cluster-wide identifier for this member.
	ID uuid.UUID

	// Name is the human-readable instance name (e.g., "srv_initiator").
	Name string

	// Addr is the advertised network address of the member.
	Addr string

	// Client marks members that joined in client mode (no data ownership).
	Client bool

	mu    sync.RWMutex
	attrs map[string]string
}

// NewNode creates a node with a fresh identifier and an empty attribute set.
func NewNode(name, addr string) *Node {
	return &Node{
		ID:    uuid.New(),
		Name:  name,
		Addr:  addr,
		attrs: make(map[string]string),
	}
}

// NewClientNode creates a client-mode node.
func NewClientNode(name, addr string) *Node {
	n := NewNode(name, addr)
	n.Client = true
	return n
}

// SetAttribute publishes an attribute on this node. Intended for the owning
// process during startup, before the node joins the grid.
func (n *Node) SetAttribute(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	n.attrs[key] = value
}

// Attribute returns the named attribute and whether it is present.
func (n *Node) Attribute(key string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.attrs[key]
	return v, ok
}

// Attributes returns a copy of the node's attribute set.
func (n *Node) Attributes() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}
