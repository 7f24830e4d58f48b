package cluster

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_AddsNodeAndEmitsEvent(t *testing.T) {
	m := NewMembership(NewNode("local", "127.0.0.1:47500"))

	var events []Event
	m.Subscribe(func(evt Event) { events = append(events, evt) })

	peer := NewNode("peer", "127.0.0.1:47501")
	require.NoError(t, m.Join(peer))

	got, ok := m.Node(peer.ID)
	require.True(t, ok)
	assert.Same(t, peer, got)

	require.Len(t, events, 1)
	assert.Equal(t, EventNodeJoined, events[0].Type)
	assert.Same(t, peer, events[0].Node)
}

func TestJoin_ValidatorRejectionKeepsNodeInvisible(t *testing.T) {
	m := NewMembership(NewNode("local", "127.0.0.1:47500"))

	rejection := errors.New("backend mismatch")
	m.RegisterValidator(func(*Node) error { return rejection })

	var joined int
	m.Subscribe(func(Event) { joined++ }, EventNodeJoined)

	peer := NewNode("peer", "127.0.0.1:47501")
	err := m.Join(peer)
	require.Error(t, err)
	assert.ErrorIs(t, err, rejection)

	_, ok := m.Node(peer.ID)
	assert.False(t, ok)
	assert.Zero(t, joined)
}

func TestFailAndLeave_RemoveAndEmit(t *testing.T) {
	m := NewMembership(NewNode("local", "127.0.0.1:47500"))

	var departures []Event
	m.Subscribe(func(evt Event) { departures = append(departures, evt) }, EventNodeFailed, EventNodeLeft)

	a := NewNode("a", "127.0.0.1:47501")
	b := NewNode("b", "127.0.0.1:47502")
	require.NoError(t, m.Join(a))
	require.NoError(t, m.Join(b))

	m.Fail(a.ID)
	m.Leave(b.ID)

	require.Len(t, departures, 2)
	assert.Equal(t, EventNodeFailed, departures[0].Type)
	assert.Equal(t, EventNodeLeft, departures[1].Type)

	_, ok := m.Node(a.ID)
	assert.False(t, ok)
	_, ok = m.Node(b.ID)
	assert.False(t, ok)
}

func TestFail_UnknownNodeIsIgnored(t *testing.T) {
	m := NewMembership(NewNode("local", "127.0.0.1:47500"))

	var fired int
	m.Subscribe(func(Event) { fired++ })

	m.Fail(NewNode("ghost", "").ID)
	assert.Zero(t, fired)
}

func TestSubscribe_TypeFilter(t *testing.T) {
	m := NewMembership(NewNode("local", "127.0.0.1:47500"))

	var joins, fails int
	m.Subscribe(func(Event) { joins++ }, EventNodeJoined)
	m.Subscribe(func(Event) { fails++ }, EventNodeFailed)

	peer := NewNode("peer", "127.0.0.1:47501")
	require.NoError(t, m.Join(peer))
	m.Fail(peer.ID)

	assert.Equal(t, 1, joins)
	assert.Equal(t, 1, fails)
}

func TestNode_Attributes(t *testing.T) {
	n := NewNode("srv_1", "127.0.0.1:47500")

	_, ok := n.Attribute("missing")
	assert.False(t, ok)

	n.SetAttribute("k", "v")
	v, ok := n.Attribute("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// Attributes returns a copy.
	attrs := n.Attributes()
	attrs["k"] = "mutated"
	v, _ = n.Attribute("k")
	assert.Equal(t, "v", v)
}
