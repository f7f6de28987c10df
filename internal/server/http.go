// Package server is the HTTP surface of the partner auth plane. It maps
// requests onto the directory and partner services and owns the session
// cookie; no auth logic lives here.
package server

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	directoryrepo "partner-auth-plane/internal/directory/repository"
	directorysvc "partner-auth-plane/internal/directory/service"
	partnersvc "partner-auth-plane/internal/partner/service"
)

// sessionCookie is the name of the claim-token session cookie.
const sessionCookie = "partner_session"

// sessionAction is the claim action bound into session tokens.
const sessionAction = "session"

// directoryHeader names the directory a request operates in.
const directoryHeader = "X-Directory"

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	directories directoryrepo.Repository
	dirSvc      *directorysvc.Service
	authSvc     *partnersvc.AuthService
	db          *sql.DB
	now         func() time.Time
}

// New wires the HTTP API. db may be nil (readiness then always passes); now
// may be nil (time.Now is used then).
func New(directories directoryrepo.Repository, dirSvc *directorysvc.Service, authSvc *partnersvc.AuthService, db *sql.DB, now func() time.Time) *API {
	if now == nil {
		now = time.Now
	}
	a := &API{
		mux:         http.NewServeMux(),
		directories: directories,
		dirSvc:      dirSvc,
		authSvc:     authSvc,
		db:          db,
		now:         now,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)

	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/profile", a.handleProfile)
	a.mux.HandleFunc("/auth/request-reset-password", a.handleRequestResetPassword)
	a.mux.HandleFunc("/auth/set-password", a.handleSetPassword)
	a.mux.HandleFunc("/auth/validate-email", a.handleValidateEmail)
	a.mux.HandleFunc("/auth/impersonate", a.handleImpersonate)
	a.mux.HandleFunc("/auth/impersonate/", a.handleRedeemImpersonation)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the http.Handler with request-scoped middleware applied.
func (a *API) Handler() http.Handler {
	return a.withRequestContext(a.mux)
}

// withRequestContext tags each request with a request ID and the client IP,
// and logs method, path, and duration.
func (a *API) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-Id")
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := WithRequestID(r.Context(), rid)
		ctx = WithClientIP(ctx, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Printf("http: %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "partner-auth-plane",
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
