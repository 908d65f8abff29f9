package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/obs"
)

const serviceName = "campusvote-api"

// Checker reports whether a dependency is ready to serve traffic.
type Checker interface {
	Check(ctx context.Context) error
}

// Probes is ready only when every probe is.
type Probes []Checker

func (p Probes) Check(ctx context.Context) error {
	for _, c := range p {
		if c == nil {
			continue
		}
		if err := c.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Options configures the HTTP layer. Zero values pick safe defaults.
type Options struct {
	Ready        Checker
	Version      string
	GraphQL      http.Handler
	MaxBodyBytes int64
	CORSOrigin   string
	RatePerSec   float64
	RateBurst    int

	// TrustedProxies may set X-Forwarded-For. Without any, the peer
	// address identifies the client.
	TrustedProxies []*net.IPNet
}

// API is the HTTP surface over the election service.
type API struct {
	router  *mux.Router
	svc     *election.Service
	tokens  *identity.Tokens
	ready   Checker
	version string

	maxBody    int64
	corsOrigin string
	ratePerSec float64
	rateBurst  int
	trusted    []*net.IPNet
}

func New(svc *election.Service, tokens *identity.Tokens, opts Options) *API {
	a := &API{
		router:     mux.NewRouter(),
		svc:        svc,
		tokens:     tokens,
		ready:      opts.Ready,
		version:    opts.Version,
		maxBody:    opts.MaxBodyBytes,
		corsOrigin: opts.CORSOrigin,
		ratePerSec: opts.RatePerSec,
		rateBurst:  opts.RateBurst,
		trusted:    opts.TrustedProxies,
	}
	if a.ready == nil {
		a.ready = Probes{}
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}

	r := a.router
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	if opts.GraphQL != nil {
		r.Handle("/graphql", opts.GraphQL).Methods(http.MethodPost)
	}

	// Flat /v1 paths keep method mismatches reaching MethodNotAllowedHandler.
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.HandleFunc("/v1/elections", a.createElection).Methods(http.MethodPost)
	r.HandleFunc("/v1/elections", a.listAdminElections).Methods(http.MethodGet)
	r.HandleFunc("/v1/elections/{id}", a.getElection).Methods(http.MethodGet)
	r.HandleFunc("/v1/elections/{id}", a.deleteElection).Methods(http.MethodDelete)
	r.HandleFunc("/v1/elections/{id}/close", a.closeElection).Methods(http.MethodPost)
	r.HandleFunc("/v1/elections/{id}/votes", a.castVote).Methods(http.MethodPost)
	r.HandleFunc("/v1/elections/{id}/results", a.electionResults).Methods(http.MethodGet)
	r.HandleFunc("/v1/elections/{id}/reconcile", a.reconcileElection).Methods(http.MethodPost)
	r.HandleFunc("/v1/enrollments/{section}/{year}/elections", a.listEnrollmentElections).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, string(election.KindNotFound), "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, string(election.KindValidation), "method not allowed")
	})
	return a
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigin)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RealIP(h, a.trusted)
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
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
