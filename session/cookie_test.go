package session

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCookie_Attributes(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	tok := Token{Value: "tok", IssuedAt: issued, ExpiresAt: issued.Add(2 * time.Hour)}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	WriteCookie(rec, req, tok, CookieOptions{Name: "sid", Path: "/api"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, "/api", c.Path)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, 7200, c.MaxAge)
	assert.False(t, c.Secure, "plain HTTP without the secure flag")
}

func TestWriteCookie_SecureBehindTLS(t *testing.T) {
	tok := Token{Value: "tok", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	WriteCookie(rec, req, tok, CookieOptions{})
	assert.True(t, rec.Result().Cookies()[0].Secure)

	req = httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	WriteCookie(rec, req, tok, CookieOptions{})
	assert.True(t, rec.Result().Cookies()[0].Secure)

	req = httptest.NewRequest(http.MethodPost, "/api/login", nil)
	rec = httptest.NewRecorder()
	WriteCookie(rec, req, tok, CookieOptions{Secure: true})
	assert.True(t, rec.Result().Cookies()[0].Secure)
}

func TestClearCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearCookie(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil), CookieOptions{})

	c := rec.Result().Cookies()[0]
	assert.Equal(t, "leafgate_session", c.Name)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
	assert.True(t, c.HttpOnly)
}

func TestTokenFromRequest(t *testing.T) {
	opts := CookieOptions{Name: "sid"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(req, opts))

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", TokenFromRequest(req, opts))

	req.AddCookie(&http.Cookie{Name: "sid", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(req, opts), "cookie wins over header")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, TokenFromRequest(req, opts))
}
