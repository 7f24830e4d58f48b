package security

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Well-known node attributes published at join time.
const (
	// AttrSubject carries the node's own Subject in transmissible form so
	// peers can resolve it without a round-trip.
	AttrSubject = "gridsec.subject"

	// AttrBackend names the node's security backend implementation,
	// consumed by join-time node validation.
	AttrBackend = "gridsec.backend"
)

// maxSubjectAttrLen bounds the advertised subject attribute. The payload is
// network-supplied and decoded before the peer is trusted.
const maxSubjectAttrLen = 16 * 1024

// wireSubject is the only shape a peer attribute may decode into.
type wireSubject struct {
	ID          string              `msgpack:"id"`
	Kind        string              `msgpack:"kind"`
	Login       string              `msgpack:"login"`
	Address     string              `msgpack:"address"`
	Permissions map[string][]string `msgpack:"permissions"`
}

// EncodeSubject serializes a subject into the transmissible attribute form:
// msgpack wrapped in base64 so it travels as a plain string attribute.
func EncodeSubject(s Subject) (string, error) {
	wire := wireSubject{
		ID:          s.ID.String(),
		Kind:        string(s.Kind),
		Login:       s.Login,
		Address:     s.Address,
		Permissions: make(map[string][]string, len(s.perms)),
	}
	for res, actions := range s.perms {
		strs := make([]string, len(actions))
		for i, a := range actions {
			strs[i] = string(a)
		}
		wire.Permissions[res] = strs
	}

	raw, err := msgpack.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode subject: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSubject parses an advertised subject attribute. The payload is
// untrusted network input: its size is bounded, unknown fields are rejected,
// and it may only decode into the fixed wire shape above.
func DecodeSubject(attr string) (Subject, error) {
	if len(attr) > maxSubjectAttrLen {
		return Subject{}, fmt.Errorf("decode subject: attribute exceeds %d bytes", maxSubjectAttrLen)
	}

	raw, err := base64.StdEncoding.DecodeString(attr)
	if err != nil {
		return Subject{}, fmt.Errorf("decode subject: %w", err)
	}

	var wire wireSubject
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields(true)
	if err := dec.Decode(&wire); err != nil {
		return Subject{}, fmt.Errorf("decode subject: %w", err)
	}

	id, err := uuid.Parse(wire.ID)
	if err != nil {
		return Subject{}, fmt.Errorf("decode subject: invalid id: %w", err)
	}

	kind := Kind(wire.Kind)
	switch kind {
	case KindNode, KindClient, KindInternal:
	default:
		return Subject{}, fmt.Errorf("decode subject: unknown kind %q", wire.Kind)
	}

	perms := make(map[string][]Permission, len(wire.Permissions))
	for res, actions := range wire.Permissions {
		ps := make([]Permission, len(actions))
		for i, a := range actions {
			ps[i] = Permission(a)
		}
		perms[res] = ps
	}

	return NewSubject(id, kind, wire.Login, wire.Address, perms), nil
}
