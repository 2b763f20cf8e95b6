// Package httpapi is the HTTP surface of the ChangeOps platform API.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"changeops.io/internal/auth"
	"changeops.io/internal/impersonation"
	"changeops.io/internal/obs"
	"changeops.io/internal/ratelimit"
	"changeops.io/internal/tenant"
)

const serviceName = "changeops-api"

// ReadyProbe checks downstream readiness, e.g. pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the collaborators wired in by the composition root.
type Deps struct {
	Ready         ReadyProbe
	Version       string
	Sessions      *auth.Sessions
	Impersonation *impersonation.Service
	Tenants       tenant.Store
	LoginThrottle *ratelimit.LoginThrottle
}

// API is the HTTP layer.
type API struct {
	mux           *http.ServeMux
	readyProbe    ReadyProbe
	version       string
	sessions      *auth.Sessions
	impersonation *impersonation.Service
	tenants       tenant.Store
	loginThrottle *ratelimit.LoginThrottle
	mintLimiter   *ratelimit.Limiter
}

const (
	mintLimit  = 5
	mintWindow = time.Minute
)

func New(deps Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    deps.Ready,
		version:       deps.Version,
		sessions:      deps.Sessions,
		impersonation: deps.Impersonation,
		tenants:       deps.Tenants,
		loginThrottle: deps.LoginThrottle,
		// Minting is cheap to serve but each token widens the blast radius
		// of a leaked operator session, so cap issuance per session.
		mintLimiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore[ratelimit.Window](0), mintLimit, mintWindow),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.Handle("/v1/admin/impersonate", RequireRole(auth.RoleSuperAdmin)(http.HandlerFunc(a.handleImpersonate)))
	a.mux.Handle("/v1/orgs", RequireRole(auth.RoleSuperAdmin)(http.HandlerFunc(a.handleOrgs)))
	a.mux.HandleFunc("/v1/orgs/", a.handleOrgScoped)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withImpersonation(h)
	h = a.withAuth(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
