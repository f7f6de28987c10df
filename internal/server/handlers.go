package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	ddomain "partner-auth-plane/internal/directory/domain"
	directorysvc "partner-auth-plane/internal/directory/service"
	pdomain "partner-auth-plane/internal/partner/domain"
	partnersvc "partner-auth-plane/internal/partner/service"
	"partner-auth-plane/internal/security"
)

type registerRequest struct {
	Name     string `json:"name"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type resetRequest struct {
	Login string `json:"login"`
}

type setPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type validateEmailRequest struct {
	Token string `json:"token"`
}

type impersonateRequest struct {
	Login string `json:"login"`
}

type partnerResponse struct {
	Login        string `json:"login"`
	MailVerified bool   `json:"mail_verified"`
}

type impersonateResponse struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.authSvc.SignUp(r.Context(), dir, req.Name, req.Login, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !a.setSession(w, r, dir, p) {
		return
	}
	writeJSON(w, http.StatusCreated, toPartnerResponse(p))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.authSvc.Login(r.Context(), dir, req.Login, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !a.setSession(w, r, dir, p) {
		return
	}
	writeJSON(w, http.StatusOK, toPartnerResponse(p))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	p, ok := a.session(w, r, dir)
	if !ok {
		return
	}
	// A sliding session gets a fresh cookie on every authenticated read.
	if dir.SlidingSession {
		if !a.setSession(w, r, dir, p) {
			return
		}
	}
	writeJSON(w, http.StatusOK, toPartnerResponse(p))
}

func (a *API) handleRequestResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The response never says whether the login exists.
	p, err := a.dirSvc.ResolveByLogin(r.Context(), dir, strings.ToLower(strings.TrimSpace(req.Login)))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if p != nil {
		if _, err := a.authSvc.RequestPasswordReset(r.Context(), dir, p); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the login exists, a reset mail has been sent",
	})
}

func (a *API) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.authSvc.SetPassword(r.Context(), dir, req.Token, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !a.setSession(w, r, dir, p) {
		return
	}
	writeJSON(w, http.StatusOK, toPartnerResponse(p))
}

func (a *API) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	var req validateEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.authSvc.ValidateEmail(r.Context(), dir, req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartnerResponse(p))
}

func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	actor, ok := a.session(w, r, dir)
	if !ok {
		return
	}
	var req impersonateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target, err := a.dirSvc.ResolveByLogin(r.Context(), dir, strings.ToLower(strings.TrimSpace(req.Login)))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if target == nil {
		writeError(w, r, http.StatusNotFound, "unknown login")
		return
	}
	action, err := a.authSvc.Impersonate(r.Context(), actor.ID, dir, target)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, impersonateResponse{
		Type:      action.Type,
		URL:       action.URL,
		ExpiresAt: action.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleRedeemImpersonation serves GET /auth/impersonate/{partnerID}/{token}:
// the link an impersonator follows. It consumes the token, opens a session as
// the target partner, and redirects to the site root.
func (a *API) handleRedeemImpersonation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	dir, ok := a.directory(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/auth/impersonate/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	p, err := a.authSvc.RedeemImpersonation(r.Context(), dir, parts[0], parts[1])
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !a.setSession(w, r, dir, p) {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// directory resolves the request's directory from the X-Directory header.
func (a *API) directory(w http.ResponseWriter, r *http.Request) (*ddomain.Directory, bool) {
	name := strings.TrimSpace(r.Header.Get(directoryHeader))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, directoryHeader+" header is required")
		return nil, false
	}
	dir, err := a.directories.GetByName(r.Context(), name)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if dir == nil {
		writeError(w, r, http.StatusNotFound, "unknown directory")
		return nil, false
	}
	return dir, true
}

// session authenticates the request's session cookie against dir.
func (a *API) session(w http.ResponseWriter, r *http.Request, dir *ddomain.Directory) (*pdomain.AuthPartner, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	p, err := a.dirSvc.VerifyClaimToken(r.Context(), dir, c.Value, sessionAction, true)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	return p, true
}

// setSession issues a session claim token for p and sets the cookie. The
// token is salted by the password hash, so changing the password invalidates
// every outstanding session.
func (a *API) setSession(w http.ResponseWriter, r *http.Request, dir *ddomain.Directory, p *pdomain.AuthPartner) bool {
	token, err := a.dirSvc.IssueClaimToken(r.Context(), dir, sessionAction, p, dir.CookieTTL, true)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(dir.CookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func toPartnerResponse(p *pdomain.AuthPartner) partnerResponse {
	return partnerResponse{Login: p.Login, MailVerified: p.MailVerified}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, partnersvc.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, partnersvc.ErrDuplicateLogin):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, partnersvc.ErrInvalidOrExpiredToken):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, partnersvc.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, security.ErrMalformedClaimToken), errors.Is(err, security.ErrInvalidClaimToken):
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, directorysvc.ErrNoTemplateConfigured):
		writeError(w, r, http.StatusInternalServerError, err.Error())
	case errors.Is(err, partnersvc.ErrMissingFields):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
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
