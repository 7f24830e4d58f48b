package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	gridmiddleware "github.com/terraconstructs/gridsec/internal/middleware"
	"github.com/terraconstructs/gridsec/internal/security"
)

// RouterOptions controls the construction of the gridsec HTTP router.
type RouterOptions struct {
	Security      *security.Processor
	Observer      security.ConnectionObserver
	HealthHandler http.HandlerFunc
	Middleware    []func(http.Handler) http.Handler
	ExtraRoutes   func(chi.Router)
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware and the gridsec
// handlers mounted. Everything under /v1 requires authentication; the health
// endpoint stays public so load balancers can probe it.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	r := chi.NewRouter()

	// Baseline middleware shared across entrypoints.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Apply custom middleware passed from the caller.
	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/healthz", healthHandler)

	authn, err := gridmiddleware.NewAuthnMiddleware(gridmiddleware.AuthnDependencies{
		Security: opts.Security,
		Observer: opts.Observer,
	})
	if err != nil {
		return nil, err
	}

	r.Group(func(g chi.Router) {
		g.Use(authn)
		g.Get("/v1/whoami", HandleWhoAmI(opts.Security))
		g.Get("/v1/subjects", HandleSubjects(opts.Security))
	})

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	return r, nil
}
