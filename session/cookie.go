package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieOptions controls how the session cookie is scoped.
type CookieOptions struct {
	Name string
	Path string
	// Secure forces the Secure attribute. When false it is still set for
	// requests that arrived over TLS (directly or via a proxy).
	Secure bool
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = "leafgate_session"
	}
	if o.Path == "" {
		o.Path = "/"
	}
	return o
}

// WriteCookie sets the session cookie for tok. The cookie is HttpOnly and
// SameSite=Strict so page scripts cannot read it and cross-site requests
// never carry it.
func WriteCookie(w http.ResponseWriter, r *http.Request, tok Token, opts CookieOptions) {
	opts = opts.normalize()
	maxAge := int(tok.ExpiresAt.Sub(tok.IssuedAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    tok.Value,
		Path:     opts.Path,
		HttpOnly: true,
		Secure:   opts.Secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  tok.ExpiresAt,
		MaxAge:   maxAge,
	})
}

// ClearCookie instructs the client to discard the session cookie.
func ClearCookie(w http.ResponseWriter, r *http.Request, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		HttpOnly: true,
		Secure:   opts.Secure || RequestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// TokenFromRequest returns the raw session token, preferring the cookie and
// falling back to an "Authorization: Bearer" header for API clients.
func TokenFromRequest(r *http.Request, opts CookieOptions) string {
	opts = opts.normalize()
	if c, err := r.Cookie(opts.Name); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequestIsSecure reports whether the request reached the edge over TLS.
func RequestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
