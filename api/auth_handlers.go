package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gookit/validate"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/leafgate/audit"
	"github.com/jmcleod/leafgate/session"
	"github.com/jmcleod/leafgate/storage"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused
// rather than silently truncated.
const maxPasswordBytes = 72

// validateRequest runs the struct's validate tags and returns one
// client-facing message on failure.
func validateRequest(v any) (string, bool) {
	val := validate.Struct(v)
	if val.Validate() {
		return "", true
	}
	return val.Errors.One(), false
}

func principalResponse(p *storage.Principal, withCreated bool) PrincipalResponse {
	resp := PrincipalResponse{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
	if withCreated {
		created := p.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}

// Register handles POST /api/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	msg, ok := validateRequest(&req)
	if ok && len(req.Password) > maxPasswordBytes {
		msg, ok = "password must be at most 72 bytes", false
	}
	if !ok {
		a.audit.Record(ctx, audit.RegistrationFailure, "",
			slog.String("reason", msg),
			slog.String("client_ip", a.clientIP(r)))
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.bcryptCost)
	if err != nil {
		a.writeInternalError(w, r, "hashing password", err)
		return
	}

	p := &storage.Principal{
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		CredentialHash: string(hash),
	}
	if err := a.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			a.audit.Record(ctx, audit.RegistrationFailure, "",
				slog.String("reason", "email already registered"),
				slog.String("client_ip", a.clientIP(r)))
			mapError(w, err)
			return
		}
		a.audit.Record(ctx, audit.PersistenceError, "",
			slog.String("operation", "create_principal"),
			slog.String("error", err.Error()))
		a.writeInternalError(w, r, "creating principal", err)
		return
	}

	tok, err := a.sessions.Issue(p.ID)
	if err != nil {
		a.writeInternalError(w, r, "issuing session", err)
		return
	}
	session.WriteCookie(w, r, tok, a.cookie)

	a.audit.Record(ctx, audit.RegistrationSuccess, p.ID, slog.String("client_ip", a.clientIP(r)))
	writeJSON(w, http.StatusCreated, principalResponse(p, false))
}

// Login handles POST /api/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if msg, ok := validateRequest(&req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := a.store.PrincipalByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Spend the same bcrypt work as a real check so response time does
		// not reveal which emails are registered.
		bcrypt.CompareHashAndPassword(a.dummyHash(), []byte(req.Password))
		a.loginFailed(w, r, "", "unknown email")
		return
	case err != nil:
		a.writeInternalError(w, r, "loading principal", err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.CredentialHash), []byte(req.Password)); err != nil {
		a.loginFailed(w, r, p.ID, "wrong password")
		return
	}

	tok, err := a.sessions.Issue(p.ID)
	if err != nil {
		a.writeInternalError(w, r, "issuing session", err)
		return
	}
	session.WriteCookie(w, r, tok, a.cookie)

	a.audit.Record(ctx, audit.LoginSuccess, p.ID, slog.String("client_ip", a.clientIP(r)))
	writeJSON(w, http.StatusOK, principalResponse(p, false))
}

func (a *API) loginFailed(w http.ResponseWriter, r *http.Request, principalID, reason string) {
	a.audit.Record(r.Context(), audit.LoginFailure, principalID,
		slog.String("reason", reason),
		slog.String("client_ip", a.clientIP(r)))
	mapError(w, errInvalidCredentials)
}

// Logout handles POST /api/logout. It always succeeds: the cookie is
// cleared, and a still-valid token is revoked when revocation is enabled.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := ""
	if raw := session.TokenFromRequest(r, a.cookie); raw != "" {
		if tok, err := a.sessions.Inspect(raw); err == nil {
			principalID = tok.Subject
			if err := a.sessions.Revoke(raw); err != nil {
				a.logger.WarnContext(ctx, "revoking session", slog.Any("error", err))
			}
		}
	}
	session.ClearCookie(w, r, a.cookie)

	a.audit.Record(ctx, audit.Logout, principalID)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me handles GET /api/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principalResponse(principalFromContext(r.Context()), true))
}
