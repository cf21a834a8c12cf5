package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"trullo.app/internal/access"
	"trullo.app/internal/auth"
	"trullo.app/internal/obs"
	"trullo.app/internal/tracker"
)

const serviceName = "trullo-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Options tunes the HTTP layer.
type Options struct {
	Version        string
	Ready          readinessChecker
	CookieSecure   bool
	AllowedOrigins []string
	RateBurst      int
	RatePerSec     float64
	// GraphQL is mounted at /graphql when set.
	GraphQL http.Handler
}

// API is the REST transport over tracker.Service.
type API struct {
	router       chi.Router
	svc          *tracker.Service
	guards       *access.Guards
	authn        *auth.Authenticator
	readyProbe   readinessChecker
	version      string
	cookieSecure bool
	origins      []string
	rateBurst    int
	ratePerSec   float64
}

// New wires routes. Every /api route carries the guard of its catalogued
// operation.
func New(svc *tracker.Service, guards *access.Guards, authn *auth.Authenticator, opts Options) *API {
	a := &API{
		svc:          svc,
		guards:       guards,
		authn:        authn,
		readyProbe:   opts.Ready,
		version:      opts.Version,
		cookieSecure: opts.CookieSecure,
		origins:      opts.AllowedOrigins,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}

	r := chi.NewRouter()
	r.NotFound(notFoundRoute)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	if opts.GraphQL != nil {
		r.Method(http.MethodPost, "/graphql", opts.GraphQL)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(authn.Middleware(auth.FromBearer, auth.FromCookie))
		r.Use(decisionCache)
		a.authRoutes(r)
		a.userRoutes(r)
		a.projectRoutes(r)
		a.taskRoutes(r)
	})

	a.router = r
	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.router)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
