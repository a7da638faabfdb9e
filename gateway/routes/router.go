package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"zusd/gateway/middleware"
	sdk "zusd/sdk/zusd"
)

// Scopes accepted by the gateway's JWT middleware. Mutating vault routes
// require the write scope; every read route accepts its module's read scope.
const (
	ScopeVaultRead  = "vault:read"
	ScopeVaultWrite = "vault:write"
	ScopeAuditRead  = "audit:read"
)

type Config struct {
	Client        *sdk.Client
	EventsTarget  *url.URL
	Timeout       time.Duration
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// scopeGuard wraps a handler with the authenticator's scope check, or is a
// pass-through when auth is not configured.
type scopeGuard func(scopes ...string) func(http.Handler) http.Handler

func New(cfg Config) (http.Handler, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("rpc client required")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	guard := passThroughGuard
	if cfg.Authenticator != nil {
		guard = cfg.Authenticator.Middleware
	}
	obs := cfg.Observability

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	vault := newVaultRoutes(cfg.Client, cfg.Timeout)
	r.Route("/v1/vault", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("vault"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("vault"))
		}
		vault.mount(sr, guard)
	})

	audit := newAuditRoutes(cfg.Client, cfg.Timeout)
	r.Route("/v1/audit", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("audit"))
		}
		if obs != nil {
			sr.Use(obs.Middleware("audit"))
		}
		audit.mount(sr, guard)
	})

	if cfg.EventsTarget != nil {
		r.Handle("/ws/events", NewEventStreamProxy(cfg.EventsTarget, ""))
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}

func passThroughGuard(...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}
