package security

import (
	"context"

	"github.com/google/uuid"
)

// Context binds exactly one authenticated Subject to the operations executed
// under it. Context values are immutable and freely shared across goroutines;
// equality is by subject identifier.
type Context struct {
	subject Subject
}

// NewContext wraps a subject in a security context.
func NewContext(subject Subject) Context {
	return Context{subject: subject}
}

// Subject returns the wrapped subject.
func (c Context) Subject() Subject {
	return c.subject
}

// SubjectID returns the wrapped subject's identifier.
func (c Context) SubjectID() uuid.UUID {
	return c.subject.ID
}

// Equal reports whether both contexts wrap the same subject identifier.
func (c Context) Equal(other Context) bool {
	return c.subject.ID == other.subject.ID
}

// IsZero reports whether the context wraps no subject.
func (c Context) IsZero() bool {
	return c.subject.ID == uuid.Nil
}

type activeContextKey struct{}

// withActive stores the active security context on the Go context. The parent
// context is untouched, so returning to it restores the previous activation:
// nested activations unwind in strict LIFO order by lexical scoping, on every
// exit path including panics and cancellation.
func withActive(ctx context.Context, sc Context) context.Context {
	return context.WithValue(ctx, activeContextKey{}, sc)
}

// activeFrom retrieves the active security context, if one was activated on
// this call path.
func activeFrom(ctx context.Context) (Context, bool) {
	sc, ok := ctx.Value(activeContextKey{}).(Context)
	return sc, ok
}
