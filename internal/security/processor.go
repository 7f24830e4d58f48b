// Package security is the security layer of the grid. It authenticates nodes
// joining the cluster and clients connecting to it, tracks the active
// security context of every operation, enforces permission checks at the
// point of resource access, and keeps the originating subject visible as an
// operation is forwarded across peers.
package security

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/terraconstructs/gridsec/internal/audit"
	"github.com/terraconstructs/gridsec/internal/cluster"
)

const msgBackendMismatch = "local node's security backend is not equal to " +
	"remote node's security backend [locNodeID=%s, rmtNodeID=%s, locBackend=%s, rmtBackend=%s]"

// ProcessorDeps bundles the collaborators a Processor needs.
type ProcessorDeps struct {
	// Backend is the pluggable authentication/authorization capability.
	Backend Backend

	// Discovery is the membership view (local node, peer lookup, events).
	Discovery Discovery

	// NodeCredentials authenticate the local node itself at Start.
	NodeCredentials Credentials

	// Audit receives one record per security decision. Defaults to a
	// log-backed sink.
	Audit audit.Emitter

	// Observer receives connection-level transitions. Optional.
	Observer ConnectionObserver
}

// Processor is the grid security manager. It delegates credential checks and
// permission evaluation to the backend, maintains the per-peer security
// context cache, validates joining nodes, and establishes the active context
// for local and forwarded operations.
//
// The active context is carried on context.Context, so it is confined to one
// call path: pooled goroutines executing unrelated tasks never inherit an
// activation left behind by a previous task.
type Processor struct {
	backend  Backend
	disco    Discovery
	creds    Credentials
	audit    audit.Emitter
	observer ConnectionObserver

	// secCtxs caches resolved peer contexts, keyed by node id. Populated
	// lazily from the peer's advertised subject attribute; entries are
	// removed exactly when the peer fails or leaves, never by expiry.
	secCtxs *xsync.MapOf[uuid.UUID, Context]

	// local holds the node's own security context, created once at Start.
	local atomic.Pointer[Context]
}

// NewProcessor creates a security processor. Backend and Discovery are
// required; the processor is inert until Start is called.
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Backend == nil {
		return nil, errors.New("security processor requires a backend")
	}
	if deps.Discovery == nil {
		return nil, errors.New("security processor requires a discovery view")
	}
	emitter := deps.Audit
	if emitter == nil {
		emitter = audit.NewLogEmitter(nil)
	}
	return &Processor{
		backend:  deps.Backend,
		disco:    deps.Discovery,
		creds:    deps.NodeCredentials,
		audit:    emitter,
		observer: deps.Observer,
		secCtxs:  xsync.NewMapOf[uuid.UUID, Context](),
	}, nil
}

// Start authenticates the local node against the backend, publishes the
// subject and backend-name attributes on it, and subscribes the peer
// lifecycle listener. It must complete before any guarded operation runs.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.backend.Start(ctx); err != nil {
		return fmt.Errorf("start security backend: %w", err)
	}

	local := p.disco.LocalNode()

	sc, err := p.AuthenticateNode(ctx, local, p.creds)
	if err != nil {
		return fmt.Errorf("authenticate local node: %w", err)
	}

	attr, err := EncodeSubject(sc.Subject())
	if err != nil {
		return fmt.Errorf("encode local subject attribute: %w", err)
	}
	local.SetAttribute(AttrSubject, attr)
	local.SetAttribute(AttrBackend, p.backend.Name())

	p.local.Store(&sc)

	// Peer-join is consumed by node validation; the cache only cares about
	// departures.
	p.disco.Subscribe(p.onPeerDeparted, cluster.EventNodeFailed, cluster.EventNodeLeft)

	log.Printf("security processor started [node=%s, backend=%s]", local.ID, p.backend.Name())
	return nil
}

// Stop shuts the backend down.
func (p *Processor) Stop(ctx context.Context) error {
	return p.backend.Stop(ctx)
}

// WithContext activates sc for the call path of the returned context. The
// parent context keeps its previous activation, so leaving the derived scope
// restores it exactly once on every exit path; nested activations unwind in
// strict LIFO order.
func (p *Processor) WithContext(ctx context.Context, sc Context) context.Context {
	return withActive(ctx, sc)
}

// WithContextForNode resolves the security context advertised by the peer
// with the given node id and activates it. The peer cache is populated on
// first miss by decoding the peer's subject attribute. If the peer is
// unknown or its attribute unavailable, no context is activated and
// ErrContextResolution is returned.
func (p *Processor) WithContextForNode(ctx context.Context, nodeID uuid.UUID) (context.Context, error) {
	sc, err := p.contextForNode(nodeID)
	if err != nil {
		p.audit.Emit(audit.Record{
			Time:      time.Now(),
			Category:  audit.CategoryResolution,
			SubjectID: nodeID.String(),
			Outcome:   audit.OutcomeFailure,
			Detail:    err.Error(),
		})
		return nil, err
	}
	return p.WithContext(ctx, sc), nil
}

// SecurityContext returns the active security context of the current call
// path, defaulting to the local node's own context. It never returns an
// undefined value: a missing local default means Start was not called, which
// is a programming defect, not a recoverable condition.
func (p *Processor) SecurityContext(ctx context.Context) Context {
	if sc, ok := activeFrom(ctx); ok {
		return sc
	}
	local := p.local.Load()
	if local == nil {
		panic("gridsec: security processor has no local security context; Start was not called")
	}
	return *local
}

// AuthenticateNode authenticates a cluster member. Exactly one audit record
// is produced whether the backend accepts or rejects; audit emission never
// alters the result.
func (p *Processor) AuthenticateNode(ctx context.Context, node *cluster.Node, cred Credentials) (Context, error) {
	sc, err := p.backend.AuthenticateNode(ctx, node, cred)

	rec := audit.Record{
		Time:      time.Now(),
		Category:  audit.CategoryAuthentication,
		SubjectID: node.ID.String(),
		Login:     cred.Login,
		Outcome:   audit.OutcomeSuccess,
	}
	if err != nil {
		rec.Outcome = audit.OutcomeFailure
		rec.Detail = err.Error()
	}
	p.audit.Emit(rec)

	if err != nil {
		return Context{}, fmt.Errorf("%w: node %s: %v", ErrAuthenticationFailed, node.ID, err)
	}
	return sc, nil
}

// Authenticate authenticates a client-class connection (thin client, REST,
// JDBC). Same audit contract as AuthenticateNode; additionally triggers the
// session established/rejected observer transition.
func (p *Processor) Authenticate(ctx context.Context, in AuthenticationInput) (Context, error) {
	sc, err := p.backend.Authenticate(ctx, in)

	rec := audit.Record{
		Time:     time.Now(),
		Category: audit.CategoryAuthentication,
		Login:    in.Login,
		Outcome:  audit.OutcomeSuccess,
	}
	if in.SubjectID != uuid.Nil {
		rec.SubjectID = in.SubjectID.String()
	}
	if err != nil {
		rec.Outcome = audit.OutcomeFailure
		rec.Detail = err.Error()
	} else {
		rec.SubjectID = sc.SubjectID().String()
		rec.Login = sc.Subject().Login
	}
	p.audit.Emit(rec)

	if err != nil {
		if p.observer != nil {
			p.observer.SessionRejected(ctx)
		}
		return Context{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if p.observer != nil {
		p.observer.SessionEstablished(ctx)
	}
	return sc, nil
}

// Authorize checks perm against the active security context for the named
// resource. The audit record is emitted after the backend decision and
// before any failure surfaces; exactly one record per call.
func (p *Processor) Authorize(ctx context.Context, name string, perm Permission) error {
	sc := p.SecurityContext(ctx)

	decisionErr := p.backend.Authorize(name, perm, sc)

	rec := audit.Record{
		Time:       time.Now(),
		Category:   audit.CategoryAuthorization,
		SubjectID:  sc.SubjectID().String(),
		Login:      sc.Subject().Login,
		Resource:   name,
		Permission: string(perm),
		Outcome:    audit.OutcomeSuccess,
	}
	if decisionErr != nil {
		rec.Outcome = audit.OutcomeFailure
		rec.Detail = decisionErr.Error()
	}
	p.audit.Emit(rec)

	if decisionErr != nil {
		return &AuthorizationError{
			SubjectID:  sc.SubjectID(),
			Login:      sc.Subject().Login,
			Resource:   name,
			Permission: perm,
			Err:        decisionErr,
		}
	}
	return nil
}

// GlobalNodeAuthentication reports whether every joining node must
// authenticate, forwarded from backend configuration.
func (p *Processor) GlobalNodeAuthentication() bool {
	return p.backend.GlobalNodeAuthentication()
}

// ValidateNode runs the join-time check against a joining node: its
// advertised security backend must exactly match the local one, or the join
// is fatally rejected. On a match the backend's own validation hook runs.
// A nil result means the node is acceptable.
func (p *Processor) ValidateNode(node *cluster.Node) *ValidationResult {
	locID := p.disco.LocalNode().ID
	locBackend := p.backend.Name()
	rmtBackend, _ := node.Attribute(AttrBackend)

	if locBackend != rmtBackend {
		res := &ValidationResult{
			NodeID:        node.ID,
			Message:       fmt.Sprintf(msgBackendMismatch, locID, node.ID, locBackend, rmtBackend),
			RemoteMessage: fmt.Sprintf(msgBackendMismatch, node.ID, locID, rmtBackend, locBackend),
		}
		p.auditValidation(node, res.Message)
		return res
	}

	if p.GlobalNodeAuthentication() {
		if _, ok := node.Attribute(AttrSubject); !ok {
			msg := fmt.Sprintf("node %s joined without an authenticated subject while global node authentication is required", node.ID)
			p.auditValidation(node, msg)
			return &ValidationResult{NodeID: node.ID, Message: msg, RemoteMessage: msg}
		}
	}

	if err := p.backend.ValidateNode(node); err != nil {
		p.auditValidation(node, err.Error())
		return &ValidationResult{NodeID: node.ID, Message: err.Error(), RemoteMessage: err.Error()}
	}
	return nil
}

// JoinValidator adapts ValidateNode for membership registration.
func (p *Processor) JoinValidator() cluster.JoinValidator {
	return func(node *cluster.Node) error {
		if res := p.ValidateNode(node); res != nil {
			return res
		}
		return nil
	}
}

// AuthenticatedSubjects lists the subjects currently known to the backend.
func (p *Processor) AuthenticatedSubjects() []Subject {
	return p.backend.AuthenticatedSubjects()
}

// AuthenticatedSubject returns the backend's subject with the given id.
func (p *Processor) AuthenticatedSubject(id uuid.UUID) (Subject, bool) {
	return p.backend.AuthenticatedSubject(id)
}

// OnSessionExpired forwards a session expiry to the backend.
func (p *Processor) OnSessionExpired(id uuid.UUID) {
	p.backend.OnSessionExpired(id)
}

// contextForNode resolves a peer's security context: cache hit, or lazy
// populate from the peer's advertised subject attribute with insert-if-absent
// semantics. Concurrent callers may race a departure; the loser of that race
// fails here because the departed peer is no longer discoverable.
func (p *Processor) contextForNode(nodeID uuid.UUID) (Context, error) {
	if sc, ok := p.secCtxs.Load(nodeID); ok {
		return sc, nil
	}

	node, ok := p.disco.Node(nodeID)
	if !ok {
		return Context{}, resolutionError(nodeID, "unknown peer")
	}
	attr, ok := node.Attribute(AttrSubject)
	if !ok {
		return Context{}, resolutionError(nodeID, "peer subject attribute unavailable")
	}
	subject, err := DecodeSubject(attr)
	if err != nil {
		return Context{}, resolutionError(nodeID, err.Error())
	}

	sc, _ := p.secCtxs.LoadOrStore(nodeID, NewContext(subject))
	return sc, nil
}

// onPeerDeparted evicts the departed peer's cached context. Removal is
// idempotent and races safely against concurrent lookups: a lookup that wins
// the race serves a stale-but-harmless context for exactly that one call.
func (p *Processor) onPeerDeparted(evt cluster.Event) {
	p.secCtxs.Delete(evt.Node.ID)
	log.Printf("evicted security context for departed peer [node=%s, event=%s]", evt.Node.ID, evt.Type)
}

func (p *Processor) auditValidation(node *cluster.Node, detail string) {
	p.audit.Emit(audit.Record{
		Time:      time.Now(),
		Category:  audit.CategoryValidation,
		SubjectID: node.ID.String(),
		Login:     node.Name,
		Outcome:   audit.OutcomeFailure,
		Detail:    detail,
	})
}
