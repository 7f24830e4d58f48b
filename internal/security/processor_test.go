package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridsec/internal/audit"
	"github.com/terraconstructs/gridsec/internal/cluster"
)

// fakeBackend is a hand-rolled backend with scriptable outcomes.
type fakeBackend struct {
	name         string
	authErr      error
	authorizeErr error
	globalAuth   bool
	validateErr  error

	mu       sync.Mutex
	subjects map[uuid.UUID]Subject
	expired  []uuid.UUID
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		name:     "fake",
		subjects: make(map[uuid.UUID]Subject),
	}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) AuthenticateNode(_ context.Context, node *cluster.Node, cred Credentials) (Context, error) {
	if b.authErr != nil {
		return Context{}, b.authErr
	}
	login := cred.Login
	if login == "" {
		login = node.Name
	}
	subject := NewSubject(node.ID, KindNode, login, node.Addr, nil)
	b.mu.Lock()
	b.subjects[node.ID] = subject
	b.mu.Unlock()
	return NewContext(subject), nil
}

func (b *fakeBackend) Authenticate(_ context.Context, in AuthenticationInput) (Context, error) {
	if b.authErr != nil {
		return Context{}, b.authErr
	}
	id := in.SubjectID
	if id == uuid.Nil {
		id = uuid.New()
	}
	subject := NewSubject(id, KindClient, in.Login, in.Address, nil)
	b.mu.Lock()
	b.subjects[id] = subject
	b.mu.Unlock()
	return NewContext(subject), nil
}

func (b *fakeBackend) Authorize(string, Permission, Context) error {
	return b.authorizeErr
}

func (b *fakeBackend) GlobalNodeAuthentication() bool { return b.globalAuth }

func (b *fakeBackend) ValidateNode(*cluster.Node) error { return b.validateErr }

func (b *fakeBackend) AuthenticatedSubjects() []Subject {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Subject, 0, len(b.subjects))
	for _, s := range b.subjects {
		out = append(out, s)
	}
	return out
}

func (b *fakeBackend) AuthenticatedSubject(id uuid.UUID) (Subject, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subjects[id]
	return s, ok
}

func (b *fakeBackend) OnSessionExpired(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subjects, id)
	b.expired = append(b.expired, id)
}

func (b *fakeBackend) Start(context.Context) error { return nil }
func (b *fakeBackend) Stop(context.Context) error  { return nil }

// fakeObserver counts connection transitions.
type fakeObserver struct {
	mu          sync.Mutex
	established int
	rejected    int
	handshakes  int
}

func (o *fakeObserver) SessionEstablished(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.established++
}

func (o *fakeObserver) SessionRejected(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *fakeObserver) HandshakeCompleted(context.Context, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handshakes++
}

type procFixture struct {
	proc       *Processor
	backend    *fakeBackend
	membership *cluster.Membership
	local      *cluster.Node
	recorder   *audit.Recorder
	observer   *fakeObserver
}

func newStartedProcessor(t *testing.T) *procFixture {
	t.Helper()

	local := cluster.NewNode("srv_initiator", "127.0.0.1:47500")
	membership := cluster.NewMembership(local)
	backend := newFakeBackend()
	recorder := audit.NewRecorder()
	observer := &fakeObserver{}

	proc, err := NewProcessor(ProcessorDeps{
		Backend:         backend,
		Discovery:       membership,
		NodeCredentials: Credentials{Login: "srv_initiator"},
		Audit:           recorder,
		Observer:        observer,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(context.Background()))
	recorder.Reset()

	return &procFixture{
		proc:       proc,
		backend:    backend,
		membership: membership,
		local:      local,
		recorder:   recorder,
		observer:   observer,
	}
}

// joinPeer starts a second processor for its own node and joins that node
// into the fixture's membership, so the fixture can resolve its subject.
func (f *procFixture) joinPeer(t *testing.T, name string) *cluster.Node {
	t.Helper()

	peer := cluster.NewNode(name, "127.0.0.1:47501")
	peerProc, err := NewProcessor(ProcessorDeps{
		Backend:   newFakeBackend(),
		Discovery: cluster.NewMembership(peer),
		Audit:     audit.NewRecorder(),
	})
	require.NoError(t, err)
	require.NoError(t, peerProc.Start(context.Background()))
	require.NoError(t, f.membership.Join(peer))
	return peer
}

func TestNewProcessor_RequiresBackendAndDiscovery(t *testing.T) {
	_, err := NewProcessor(ProcessorDeps{Discovery: cluster.NewMembership(cluster.NewNode("n", ""))})
	require.Error(t, err)

	_, err = NewProcessor(ProcessorDeps{Backend: newFakeBackend()})
	require.Error(t, err)
}

func TestSecurityContext_DefaultsToLocalNode(t *testing.T) {
	f := newStartedProcessor(t)

	sc := f.proc.SecurityContext(context.Background())
	assert.Equal(t, f.local.ID, sc.SubjectID())
	assert.Equal(t, KindNode, sc.Subject().Kind)
}

func TestSecurityContext_PanicsBeforeStart(t *testing.T) {
	proc, err := NewProcessor(ProcessorDeps{
		Backend:   newFakeBackend(),
		Discovery: cluster.NewMembership(cluster.NewNode("n", "")),
		Audit:     audit.NewRecorder(),
	})
	require.NoError(t, err)

	assert.Panics(t, func() {
		proc.SecurityContext(context.Background())
	})
}

func TestWithContext_NestedActivationsUnwindLIFO(t *testing.T) {
	f := newStartedProcessor(t)
	base := context.Background()

	outer := NewContext(NewSubject(uuid.New(), KindClient, "outer", "", nil))
	inner := NewContext(NewSubject(uuid.New(), KindClient, "inner", "", nil))

	ctxOuter := f.proc.WithContext(base, outer)
	ctxInner := f.proc.WithContext(ctxOuter, inner)

	assert.True(t, f.proc.SecurityContext(ctxInner).Equal(inner))
	assert.True(t, f.proc.SecurityContext(ctxOuter).Equal(outer))
	assert.Equal(t, f.local.ID, f.proc.SecurityContext(base).SubjectID())
}

func TestWithContext_ScopeDoesNotLeakAcrossGoroutines(t *testing.T) {
	f := newStartedProcessor(t)

	client := NewContext(NewSubject(uuid.New(), KindClient, "client", "", nil))
	_ = f.proc.WithContext(context.Background(), client)

	done := make(chan uuid.UUID, 1)
	go func() {
		done <- f.proc.SecurityContext(context.Background()).SubjectID()
	}()
	assert.Equal(t, f.local.ID, <-done)
}

func TestAuthorize_Success_EmitsExactlyOneRecord(t *testing.T) {
	f := newStartedProcessor(t)

	err := f.proc.Authorize(context.Background(), "cache/orders", PermCacheRead)
	require.NoError(t, err)

	assert.Equal(t, 1, f.recorder.Count(audit.CategoryAuthorization, audit.OutcomeSuccess))
	assert.Equal(t, 0, f.recorder.Count(audit.CategoryAuthorization, audit.OutcomeFailure))
}

func TestAuthorize_Denied_EmitsRecordBeforeError(t *testing.T) {
	f := newStartedProcessor(t)
	f.backend.authorizeErr = ErrAccessDenied

	err := f.proc.Authorize(context.Background(), "cache/orders", PermCacheWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)

	var authzErr *AuthorizationError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, f.local.ID, authzErr.SubjectID)
	assert.Equal(t, "cache/orders", authzErr.Resource)
	assert.Equal(t, PermCacheWrite, authzErr.Permission)

	assert.Equal(t, 1, f.recorder.Count(audit.CategoryAuthorization, audit.OutcomeFailure))
	assert.Equal(t, 0, f.recorder.Count(audit.CategoryAuthorization, audit.OutcomeSuccess))
}

func TestAuthenticate_Success_TriggersEstablishedObserver(t *testing.T) {
	f := newStartedProcessor(t)

	sc, err := f.proc.Authenticate(context.Background(), AuthenticationInput{Login: "alice", Secret: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "alice", sc.Subject().Login)

	assert.Equal(t, 1, f.observer.established)
	assert.Equal(t, 0, f.observer.rejected)
	assert.Equal(t, 1, f.recorder.Count(audit.CategoryAuthentication, audit.OutcomeSuccess))
}

func TestAuthenticate_Rejected_TriggersRejectedObserver(t *testing.T) {
	f := newStartedProcessor(t)
	f.backend.authErr = errors.New("bad credentials")

	_, err := f.proc.Authenticate(context.Background(), AuthenticationInput{Login: "mallory", Secret: "guess"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	assert.Equal(t, 0, f.observer.established)
	assert.Equal(t, 1, f.observer.rejected)
	assert.Equal(t, 1, f.recorder.Count(audit.CategoryAuthentication, audit.OutcomeFailure))
}

func TestAuthenticateNode_Failure_EmitsExactlyOneRecord(t *testing.T) {
	f := newStartedProcessor(t)
	f.backend.authErr = errors.New("invalid node credentials")

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	_, err := f.proc.AuthenticateNode(context.Background(), joining, Credentials{Login: "srv_join"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 1, f.recorder.Count(audit.CategoryAuthentication, audit.OutcomeFailure))
}

func TestValidateNode_AcceptsMatchingBackend(t *testing.T) {
	f := newStartedProcessor(t)

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	joining.SetAttribute(AttrBackend, "fake")

	assert.Nil(t, f.proc.ValidateNode(joining))
}

func TestValidateNode_BackendMismatchIsMirroredAndDeterministic(t *testing.T) {
	f := newStartedProcessor(t)

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	joining.SetAttribute(AttrBackend, "other")

	res := f.proc.ValidateNode(joining)
	require.NotNil(t, res)
	assert.Equal(t, joining.ID, res.NodeID)

	// Both sides name the same mismatch from their own perspective.
	assert.Contains(t, res.Message, f.local.ID.String())
	assert.Contains(t, res.Message, joining.ID.String())
	assert.Contains(t, res.Message, "locBackend=fake")
	assert.Contains(t, res.RemoteMessage, "locBackend=other")

	// Same inputs, same verdict.
	again := f.proc.ValidateNode(joining)
	require.NotNil(t, again)
	assert.Equal(t, res.Message, again.Message)
	assert.Equal(t, res.RemoteMessage, again.RemoteMessage)

	assert.Equal(t, 2, f.recorder.Count(audit.CategoryValidation, audit.OutcomeFailure))
}

func TestValidateNode_MissingBackendAttributeRejected(t *testing.T) {
	f := newStartedProcessor(t)

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	assert.NotNil(t, f.proc.ValidateNode(joining))
}

func TestValidateNode_GlobalAuthRequiresSubjectAttribute(t *testing.T) {
	f := newStartedProcessor(t)
	f.backend.globalAuth = true

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	joining.SetAttribute(AttrBackend, "fake")

	res := f.proc.ValidateNode(joining)
	require.NotNil(t, res)
	assert.Contains(t, res.Message, "global node authentication")

	attr, err := EncodeSubject(NewSubject(joining.ID, KindNode, "srv_join", joining.Addr, nil))
	require.NoError(t, err)
	joining.SetAttribute(AttrSubject, attr)

	assert.Nil(t, f.proc.ValidateNode(joining))
}

func TestJoinValidator_RejectsMismatchedBackendOnJoin(t *testing.T) {
	f := newStartedProcessor(t)
	f.membership.RegisterValidator(f.proc.JoinValidator())

	joining := cluster.NewNode("srv_join", "127.0.0.1:47502")
	joining.SetAttribute(AttrBackend, "other")

	err := f.membership.Join(joining)
	require.Error(t, err)

	var res *ValidationResult
	assert.ErrorAs(t, err, &res)
	_, visible := f.membership.Node(joining.ID)
	assert.False(t, visible)
}

func TestWithContextForNode_ResolvesAndCachesPeerContext(t *testing.T) {
	f := newStartedProcessor(t)
	peer := f.joinPeer(t, "srv_run")

	ctx, err := f.proc.WithContextForNode(context.Background(), peer.ID)
	require.NoError(t, err)
	assert.Equal(t, peer.ID, f.proc.SecurityContext(ctx).SubjectID())

	// Second resolution is served from the cache.
	ctx2, err := f.proc.WithContextForNode(context.Background(), peer.ID)
	require.NoError(t, err)
	assert.Equal(t, peer.ID, f.proc.SecurityContext(ctx2).SubjectID())
}

func TestWithContextForNode_UnknownPeerFails(t *testing.T) {
	f := newStartedProcessor(t)

	_, err := f.proc.WithContextForNode(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextResolution)
	assert.Equal(t, 1, f.recorder.Count(audit.CategoryResolution, audit.OutcomeFailure))
}

func TestWithContextForNode_DepartedPeerIsEvicted(t *testing.T) {
	f := newStartedProcessor(t)
	peer := f.joinPeer(t, "srv_run")

	_, err := f.proc.WithContextForNode(context.Background(), peer.ID)
	require.NoError(t, err)

	f.membership.Leave(peer.ID)

	_, err = f.proc.WithContextForNode(context.Background(), peer.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextResolution)
}

func TestWithContextForNode_FailedPeerIsEvicted(t *testing.T) {
	f := newStartedProcessor(t)
	peer := f.joinPeer(t, "srv_run")

	_, err := f.proc.WithContextForNode(context.Background(), peer.ID)
	require.NoError(t, err)

	f.membership.Fail(peer.ID)

	_, err = f.proc.WithContextForNode(context.Background(), peer.ID)
	assert.ErrorIs(t, err, ErrContextResolution)
}

func TestOnSessionExpired_ForwardsToBackend(t *testing.T) {
	f := newStartedProcessor(t)

	sc, err := f.proc.Authenticate(context.Background(), AuthenticationInput{Login: "alice"})
	require.NoError(t, err)

	_, known := f.proc.AuthenticatedSubject(sc.SubjectID())
	require.True(t, known)

	f.proc.OnSessionExpired(sc.SubjectID())
	_, known = f.proc.AuthenticatedSubject(sc.SubjectID())
	assert.False(t, known)
}
