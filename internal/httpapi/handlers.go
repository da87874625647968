// Package httpapi exposes the REST surface, the shared middleware chain and
// the gRPC health service.
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

	"bazaar.app/internal/auth"
	"bazaar.app/internal/messaging"
	"bazaar.app/internal/obs"
)

const serviceName = "bazaar-api"

// ReadyProbe checks the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Readiness reports whether the service can take traffic.
type Readiness interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Directory *auth.Directory
	Gateway   *messaging.Gateway
	// Realtime serves /ws. It authenticates on its own.
	Realtime http.Handler
	Ready    Readiness
	Version  string

	AllowedOrigins []string
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	directory *auth.Directory
	gateway   *messaging.Gateway
	ready     Readiness
	version   string
	deps      Deps
}

func New(d Deps) *API {
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 40
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 20
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:       http.NewServeMux(),
		directory: d.Directory,
		gateway:   d.Gateway,
		ready:     d.Ready,
		version:   d.Version,
		deps:      d,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	if a.directory != nil {
		a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
		a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
		a.mux.HandleFunc("/v1/users/me", a.handleMe)
		a.mux.HandleFunc("/v1/users/me/password", a.handlePassword)
		a.mux.Handle("/v1/admin/users/", RequireAdmin(http.HandlerFunc(a.handleAdminUser)))
	}
	if a.gateway != nil {
		a.mux.HandleFunc("/v1/conversations", a.handleConversations)
		a.mux.HandleFunc("/v1/conversations/", a.handleConversationResource)
	}
	if d.Realtime != nil {
		a.mux.Handle("/ws", d.Realtime)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux behind the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.deps.MaxBodyBytes)
	h = RateLimit(h, a.deps.RateBurst, a.deps.RatePerSec)
	h = CORS(h, a.deps.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
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
	if err := a.ready.Check(r.Context()); err != nil {
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

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
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
