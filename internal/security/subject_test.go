package security

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubject_HasPermission(t *testing.T) {
	s := NewSubject(uuid.New(), KindClient, "alice", "", map[string][]Permission{
		"cache/*": {PermCacheRead},
		"tasks":   {"*"},
		"*":       {PermClusterJoin},
	})

	assert.True(t, s.HasPermission("cache/orders", PermCacheRead))
	assert.False(t, s.HasPermission("cache/orders", PermCacheWrite))
	assert.True(t, s.HasPermission("tasks", PermTaskExecute))
	assert.True(t, s.HasPermission("tasks", PermTaskCancel))
	assert.True(t, s.HasPermission("anything", PermClusterJoin))
	assert.False(t, s.HasPermission("other", PermCacheRead))
}

func TestSubject_Immutable(t *testing.T) {
	perms := map[string][]Permission{"cache/*": {PermCacheRead}}
	s := NewSubject(uuid.New(), KindClient, "alice", "", perms)

	// Mutating the input or the copy returned by Permissions must not
	// change the subject.
	perms["cache/*"] = append(perms["cache/*"], PermCacheWrite)
	out := s.Permissions()
	out["tasks"] = []Permission{PermTaskExecute}

	assert.False(t, s.HasPermission("cache/orders", PermCacheWrite))
	assert.False(t, s.HasPermission("tasks", PermTaskExecute))
}
