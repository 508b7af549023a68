package api

import (
	"net/http"
	"strings"

	"github.com/jmcleod/leafgate/session"
)

const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"

// SecurityHeaders is middleware that sets standard security response headers
// on every response. It should be placed early in the middleware chain.
//
// The documentation pages load their UI bundle from a CDN, so they get no
// Content-Security-Policy.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if !isDocsPath(r.URL.Path) {
			h.Set("Content-Security-Policy", contentSecurityPolicy)
		}
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/predict" {
			h.Set("Cache-Control", "no-store")
		}
		if session.RequestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func isDocsPath(p string) bool {
	return strings.HasPrefix(p, "/docs") || strings.HasPrefix(p, "/redoc")
}
