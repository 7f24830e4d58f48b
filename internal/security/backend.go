package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/terraconstructs/gridsec/internal/cluster"
)

// Credentials are presented by a node joining the grid.
type Credentials struct {
	// Login identifies the joining member; defaults to the node name.
	Login string

	// Secret is the shared join secret or credential material.
	Secret string
}

// AuthenticationInput carries one client-class authentication attempt: a
// bearer token or a login/secret pair, plus the connection address. It is
// consumed for the duration of a single Authenticate call and never stored.
type AuthenticationInput struct {
	// SubjectID is an optional caller-proposed subject id; zero means the
	// backend assigns one.
	SubjectID uuid.UUID

	// Kind hints the subject class; backends may override it.
	Kind Kind

	// Login and Secret carry password-style credentials.
	Login  string
	Secret string

	// Token carries a bearer token, mutually exclusive with Login/Secret.
	Token string

	// Address is the originating connection address.
	Address string
}

// Backend is the pluggable authentication/authorization capability the
// processor delegates to. Concrete backends are interchangeable; every grid
// member must run the same one, which is enforced at join time by comparing
// backend names.
type Backend interface {
	// Name identifies the backend implementation. It is advertised as a
	// node attribute and compared exactly during join validation.
	Name() string

	// AuthenticateNode authenticates a cluster member at join time.
	AuthenticateNode(ctx context.Context, node *cluster.Node, cred Credentials) (Context, error)

	// Authenticate authenticates a client-class connection.
	Authenticate(ctx context.Context, in AuthenticationInput) (Context, error)

	// Authorize checks perm against the given security context for the
	// named resource. A nil return allows the operation; a denial wraps
	// ErrAccessDenied.
	Authorize(name string, perm Permission, sc Context) error

	// GlobalNodeAuthentication reports whether every joining node must be
	// authenticated, read by the join path.
	GlobalNodeAuthentication() bool

	// ValidateNode is the backend's own join-time hook, run after the
	// backend-name comparison passed.
	ValidateNode(node *cluster.Node) error

	// AuthenticatedSubjects lists the subjects currently known to the
	// backend.
	AuthenticatedSubjects() []Subject

	// AuthenticatedSubject returns the subject with the given id.
	AuthenticatedSubject(id uuid.UUID) (Subject, bool)

	// OnSessionExpired tells the backend a subject's session ended.
	OnSessionExpired(id uuid.UUID)

	// Start and Stop bracket the backend lifecycle.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ConnectionObserver receives the three connection-level transitions the
// security layer must surface. Implementations are external; the processor
// only triggers them.
type ConnectionObserver interface {
	// SessionEstablished fires once per successful client authentication.
	SessionEstablished(ctx context.Context)

	// SessionRejected fires once per failed client authentication.
	SessionRejected(ctx context.Context)

	// HandshakeCompleted fires after a successful handshake with its
	// duration.
	HandshakeCompleted(ctx context.Context, d time.Duration)
}

// Discovery is the membership view the processor depends on: local node
// identity, peer lookup, and fail/leave event subscription. Implemented by
// cluster.Membership.
type Discovery interface {
	LocalNode() *cluster.Node
	Node(id uuid.UUID) (*cluster.Node, bool)
	Subscribe(fn cluster.Listener, types ...cluster.EventType)
}
