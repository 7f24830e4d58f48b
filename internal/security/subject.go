package security

import (
	"strings"

	"github.com/google/uuid"
)

// Kind differentiates the classes of authenticated subjects.
type Kind string

const (
	// KindNode represents a cluster member authenticated at join time.
	KindNode Kind = "node"

	// KindClient represents a remote client connection (thin client, REST).
	KindClient Kind = "client"

	// KindInternal represents identities created by the grid itself.
	KindInternal Kind = "internal"
)

// Permission names an action a subject may perform on a resource.
type Permission string

// Permissions checked by guarded grid operations.
const (
	PermCacheRead   Permission = "cache:read"
	PermCacheWrite  Permission = "cache:write"
	PermCacheRemove Permission = "cache:remove"
	PermTaskExecute Permission = "task:execute"
	PermTaskCancel  Permission = "task:cancel"
	PermClusterJoin Permission = "cluster:join"
	PermAdminOps    Permission = "admin:ops"
)

// Subject is an authenticated identity: a cluster node, a remote client, or
// an internal actor, together with the permission set granted to it.
//
// A Subject is IMMUTABLE after construction. The permission map is copied in
// and copied out; holders can share Subject values across goroutines without
// synchronization.
type Subject struct {
	// ID is the stable unique identifier. For node subjects it equals the
	// node's cluster id, so a forwarded operation can name its originator
	// by this id alone.
	ID uuid.UUID

	// Kind classifies the subject.
	Kind Kind

	// Login is the login or display name presented at authentication.
	Login string

	// Address is the originating network address, when known.
	Address string

	perms map[string][]Permission
}

// NewSubject constructs an immutable subject. The permission map is copied.
func NewSubject(id uuid.UUID, kind Kind, login, address string, perms map[string][]Permission) Subject {
	copied := make(map[string][]Permission, len(perms))
	for res, actions := range perms {
		copied[res] = append([]Permission(nil), actions...)
	}
	return Subject{
		ID:      id,
		Kind:    kind,
		Login:   login,
		Address: address,
		perms:   copied,
	}
}

// Permissions returns a copy of the subject's permission set, keyed by
// resource pattern.
func (s Subject) Permissions() map[string][]Permission {
	out := make(map[string][]Permission, len(s.perms))
	for res, actions := range s.perms {
		out[res] = append([]Permission(nil), actions...)
	}
	return out
}

// HasPermission reports whether the subject's own permission set grants perm
// on the named resource. Resource patterns support a trailing "*" wildcard;
// the permission "*" grants every action on its resource.
//
// Backends are free to consult richer policy than this set; HasPermission is
// the self-contained evaluation used when no external policy engine is wired.
func (s Subject) HasPermission(resource string, perm Permission) bool {
	for pattern, actions := range s.perms {
		if !matchResource(pattern, resource) {
			continue
		}
		for _, a := range actions {
			if a == perm || a == "*" {
				return true
			}
		}
	}
	return false
}

func matchResource(pattern, resource string) bool {
	if pattern == "*" || pattern == resource {
		return true
	}
	if trimmed, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(resource, trimmed)
	}
	return false
}
