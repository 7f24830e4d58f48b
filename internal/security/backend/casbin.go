// Package backend provides concrete security backends for the grid. The
// default is a casbin-based backend: authentication against configured node
// and user credentials, authorization through an embedded RBAC model with
// subject-attribute filter expressions.
package backend

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/terraconstructs/gridsec/internal/cluster"
	"github.com/terraconstructs/gridsec/internal/security"
)

//go:embed model.conf
var casbinModelContent string

// BackendName identifies this backend implementation. It is advertised as a
// node attribute and must match exactly across all grid members.
const BackendName = "casbin"

// roleNode is the implicit role every authenticated cluster node enforces
// under.
const roleNode = "role:node"

const defaultDecisionCacheSize = 1024

// User is a configured client-class identity.
type User struct {
	// Secret is the shared secret for login/secret authentication.
	Secret string

	// Roles lists the role names granted to this user.
	Roles []string
}

// Grant is one policy row: Subject (a login or "role:<name>") may perform
// Action on resources matching Resource (casbin keyMatch pattern), optionally
// constrained by a go-bexpr Filter over the requesting subject's attributes.
type Grant struct {
	Subject  string
	Resource string
	Action   security.Permission
	Filter   string
}

// Options configure the casbin backend.
type Options struct {
	// NodeSecret is the shared join secret for cluster nodes. Empty
	// disables node credential checking.
	NodeSecret string

	// Users maps login to client-class credentials and roles.
	Users map[string]User

	// Grants is the policy set loaded into the enforcer. If no grant names
	// roleNode, nodes get an implicit allow-all grant.
	Grants []Grant

	// TokenSecret enables bearer-token authentication when non-empty.
	TokenSecret []byte

	// TokenIssuer, when set, is required on accepted tokens.
	TokenIssuer string

	// GlobalNodeAuth requires every joining node to be authenticated.
	GlobalNodeAuth bool

	// DecisionCacheSize bounds the authorization decision cache.
	DecisionCacheSize int
}

type decisionKey struct {
	subject  uuid.UUID
	resource string
	perm     security.Permission
}

// CasbinBackend implements security.Backend on a casbin enforcer with an LRU
// decision cache. Safe for concurrent use.
type CasbinBackend struct {
	enforcer   *casbin.SyncedEnforcer
	nodeSecret string
	users      map[string]User
	grants     []Grant
	tokens     *TokenValidator
	globalAuth bool

	subjects  *xsync.MapOf[uuid.UUID, security.Subject]
	decisions *lru.Cache[decisionKey, bool]
}

// NewCasbinBackend builds the enforcer from the embedded model and the
// configured grants.
func NewCasbinBackend(opts Options) (*CasbinBackend, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	enforcer.AddFunction("bexprMatch", bexprMatchFunction())

	grants := append([]Grant(nil), opts.Grants...)
	if !hasNodeGrant(grants) {
		grants = append(grants, Grant{Subject: roleNode, Resource: "*", Action: "*"})
	}
	for _, g := range grants {
		if _, err := enforcer.AddPolicy(g.Subject, g.Resource, string(g.Action), g.Filter); err != nil {
			return nil, fmt.Errorf("add grant for %q: %w", g.Subject, err)
		}
	}
	for login, u := range opts.Users {
		for _, role := range u.Roles {
			if _, err := enforcer.AddGroupingPolicy(login, "role:"+role); err != nil {
				return nil, fmt.Errorf("bind role %q to %q: %w", role, login, err)
			}
		}
	}

	var tokens *TokenValidator
	if len(opts.TokenSecret) > 0 {
		tokens, err = NewTokenValidator(opts.TokenSecret, opts.TokenIssuer)
		if err != nil {
			return nil, err
		}
	}

	size := opts.DecisionCacheSize
	if size <= 0 {
		size = defaultDecisionCacheSize
	}
	decisions, err := lru.New[decisionKey, bool](size)
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}

	return &CasbinBackend{
		enforcer:   enforcer,
		nodeSecret: opts.NodeSecret,
		users:      opts.Users,
		grants:     grants,
		tokens:     tokens,
		globalAuth: opts.GlobalNodeAuth,
		subjects:   xsync.NewMapOf[uuid.UUID, security.Subject](),
		decisions:  decisions,
	}, nil
}

// Name implements security.Backend.
func (b *CasbinBackend) Name() string {
	return BackendName
}

// AuthenticateNode checks the join secret and constructs the node's subject.
// The subject id equals the node id, so forwarded operations can name their
// originator by node id.
func (b *CasbinBackend) AuthenticateNode(_ context.Context, node *cluster.Node, cred security.Credentials) (security.Context, error) {
	if b.nodeSecret != "" &&
		subtle.ConstantTimeCompare([]byte(cred.Secret), []byte(b.nodeSecret)) != 1 {
		return security.Context{}, errors.New("invalid node credentials")
	}

	login := cred.Login
	if login == "" {
		login = node.Name
	}

	subject := security.NewSubject(node.ID, security.KindNode, login, node.Addr,
		b.permissionsFor(roleNode))
	b.subjects.Store(node.ID, subject)

	return security.NewContext(subject), nil
}

// Authenticate validates client credentials: a bearer token when presented,
// otherwise a configured login/secret pair.
func (b *CasbinBackend) Authenticate(_ context.Context, in security.AuthenticationInput) (security.Context, error) {
	var (
		login string
		roles []string
	)

	switch {
	case in.Token != "":
		if b.tokens == nil {
			return security.Context{}, errors.New("bearer token presented but token authentication is not configured")
		}
		var err error
		login, roles, err = b.tokens.Validate(in.Token)
		if err != nil {
			return security.Context{}, err
		}
	case in.Login != "":
		u, ok := b.users[in.Login]
		if !ok || subtle.ConstantTimeCompare([]byte(in.Secret), []byte(u.Secret)) != 1 {
			return security.Context{}, fmt.Errorf("invalid credentials for login %q", in.Login)
		}
		login = in.Login
		roles = u.Roles
	default:
		return security.Context{}, errors.New("no credentials presented")
	}

	id := in.SubjectID
	if id == uuid.Nil {
		id = uuid.New()
	}
	kind := in.Kind
	if kind == "" {
		kind = security.KindClient
	}

	// Role bindings are keyed by session id, not login, so the roles one
	// token carried never leak into a later session for the same login.
	sessionKey := id.String()
	if _, err := b.enforcer.AddGroupingPolicy(sessionKey, login); err != nil {
		return security.Context{}, fmt.Errorf("bind session to login %q: %w", login, err)
	}
	for _, role := range roles {
		if _, err := b.enforcer.AddGroupingPolicy(sessionKey, "role:"+role); err != nil {
			return security.Context{}, fmt.Errorf("bind role %q to session of %q: %w", role, login, err)
		}
	}

	keys := make([]string, 0, len(roles)+1)
	keys = append(keys, login)
	for _, role := range roles {
		keys = append(keys, "role:"+role)
	}
	subject := security.NewSubject(id, kind, login, in.Address, b.permissionsFor(keys...))
	b.subjects.Store(id, subject)

	return security.NewContext(subject), nil
}

// Authorize evaluates the permission through the enforcer. Decisions are
// cached per (subject, resource, permission); entries are dropped when the
// subject's session expires.
func (b *CasbinBackend) Authorize(name string, perm security.Permission, sc security.Context) error {
	subject := sc.Subject()
	key := decisionKey{subject: subject.ID, resource: name, perm: perm}

	allowed, ok := b.decisions.Get(key)
	if !ok {
		attrs := map[string]any{
			"kind":    string(subject.Kind),
			"login":   subject.Login,
			"address": subject.Address,
		}
		var err error
		allowed, err = b.enforcer.Enforce(b.subjectKey(subject), name, string(perm), attrs)
		if err != nil {
			return fmt.Errorf("authorize %s on %q: %w", perm, name, err)
		}
		b.decisions.Add(key, allowed)
	}

	if !allowed {
		return fmt.Errorf("%w: subject %s (login %q) has no %s on %q",
			security.ErrAccessDenied, subject.ID, subject.Login, perm, name)
	}
	return nil
}

// GlobalNodeAuthentication implements security.Backend.
func (b *CasbinBackend) GlobalNodeAuthentication() bool {
	return b.globalAuth
}

// ValidateNode is the backend's own join hook; the backend-name comparison
// has already passed when it runs.
func (b *CasbinBackend) ValidateNode(*cluster.Node) error {
	return nil
}

// AuthenticatedSubjects implements security.Backend.
func (b *CasbinBackend) AuthenticatedSubjects() []security.Subject {
	out := make([]security.Subject, 0)
	b.subjects.Range(func(_ uuid.UUID, s security.Subject) bool {
		out = append(out, s)
		return true
	})
	return out
}

// AuthenticatedSubject implements security.Backend.
func (b *CasbinBackend) AuthenticatedSubject(id uuid.UUID) (security.Subject, bool) {
	return b.subjects.Load(id)
}

// OnSessionExpired forgets the subject, drops the session's role bindings
// from the enforcer, and purges its cached decisions.
func (b *CasbinBackend) OnSessionExpired(id uuid.UUID) {
	b.subjects.Delete(id)
	_, _ = b.enforcer.RemoveFilteredGroupingPolicy(0, id.String())
	for _, key := range b.decisions.Keys() {
		if key.subject == id {
			b.decisions.Remove(key)
		}
	}
}

// Start implements security.Backend.
func (b *CasbinBackend) Start(context.Context) error {
	return nil
}

// Stop implements security.Backend.
func (b *CasbinBackend) Stop(context.Context) error {
	return nil
}

// subjectKey is the enforcer subject for a security subject. Cluster nodes
// enforce under the implicit node role; their logins are not bound in local
// policy because remote nodes authenticate against their own backend. Client
// subjects enforce under their session id, which the grouping policy links
// to the login and to the roles that exact session's credentials carried.
func (b *CasbinBackend) subjectKey(s security.Subject) string {
	if s.Kind == security.KindNode {
		return roleNode
	}
	return s.ID.String()
}

func hasNodeGrant(grants []Grant) bool {
	for _, g := range grants {
		if g.Subject == roleNode {
			return true
		}
	}
	return false
}

// permissionsFor materializes the permission set granted to the given
// enforcer subject keys, for the subject's transmissible form.
func (b *CasbinBackend) permissionsFor(keys ...string) map[string][]security.Permission {
	perms := make(map[string][]security.Permission)
	for _, g := range b.grants {
		for _, key := range keys {
			if g.Subject == key {
				perms[g.Resource] = append(perms[g.Resource], g.Action)
				break
			}
		}
	}
	return perms
}
