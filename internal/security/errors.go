package security

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrAuthenticationFailed marks any credential, certificate, or protocol
	// rejection. The layer does not distinguish why authentication failed;
	// that detail belongs to the transport and backend.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAccessDenied is returned by backends when a subject lacks the
	// checked permission. The processor wraps it in AuthorizationError.
	ErrAccessDenied = errors.New("access denied")

	// ErrContextResolution marks a subject identifier that could not be
	// resolved to a known security context. It aborts exactly one forwarded
	// operation; the peer is typically already gone.
	ErrContextResolution = errors.New("security context resolution failed")
)

// AuthorizationError names the subject, resource, and permission of a denied
// authorization check.
type AuthorizationError struct {
	SubjectID  uuid.UUID
	Login      string
	Resource   string
	Permission Permission
	Err        error
}

// Error implements error.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: subject %s (login %q) lacks %s on %q",
		e.SubjectID, e.Login, e.Permission, e.Resource)
}

// Unwrap exposes the backend denial, typically ErrAccessDenied.
func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// ValidationResult describes a fatal join rejection. Message is addressed to
// the local side, RemoteMessage to the rejected joining node; both name the
// same mismatch from their own perspective.
type ValidationResult struct {
	NodeID        uuid.UUID
	Message       string
	RemoteMessage string
}

// Error implements error so a ValidationResult can reject a join directly.
func (r *ValidationResult) Error() string {
	return r.Message
}

func resolutionError(nodeID uuid.UUID, reason string) error {
	return fmt.Errorf("%w: node %s: %s", ErrContextResolution, nodeID, reason)
}
