// Package session issues and verifies the stateless, signed session tokens
// carried in the gateway's session cookie.
//
// A token asserts a subject (principal ID) between IssuedAt and ExpiresAt.
// The server keeps no session table: validity is decided by the HMAC
// signature and the clock alone. Rotating the signing secret invalidates
// every outstanding token at once. When revocation is enabled a small
// in-memory denylist additionally allows a single token to be retired
// before it expires (for logout); the denylist is per process.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/leafgate/config"
	"github.com/jmcleod/leafgate/internal/uuid"
)

var (
	ErrMissingToken   = errors.New("session token missing")
	ErrMalformedToken = errors.New("session token malformed")
	ErrInvalidToken   = errors.New("session token signature invalid")
	ErrExpiredToken   = errors.New("session token expired")
	ErrRevokedToken   = errors.New("session token revoked")
)

// Token is an issued session credential. Value is the encoded form that is
// handed to the client.
type Token struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Value     string
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret   *memguard.Enclave
	lifetime time.Duration
	now      func() time.Time
	denylist *Denylist
	parser   *jwt.Parser
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithDenylist enables early revocation backed by d.
func WithDenylist(d *Denylist) Option {
	return func(m *Manager) {
		m.denylist = d
	}
}

// NewManager builds a Manager from the session configuration. A missing or
// short secret is a *config.Error; there is no default secret.
func NewManager(cfg config.Session, opts ...Option) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, &config.Error{Field: "session.secret", Err: config.ErrMissing}
	}
	if len(cfg.Secret) < config.MinSecretLen {
		return nil, &config.Error{
			Field: "session.secret",
			Err:   fmt.Errorf("must be at least %d bytes", config.MinSecretLen),
		}
	}
	if cfg.Lifetime <= 0 {
		return nil, &config.Error{Field: "session.lifetime", Err: errors.New("must be positive")}
	}

	// NewEnclave wipes its argument, so hand it a private copy.
	m := &Manager{
		secret:   memguard.NewEnclave([]byte(cfg.Secret)),
		lifetime: cfg.Lifetime,
		now:      time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Lifetime returns the configured token lifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue creates a signed token for subject valid for the configured lifetime.
func (m *Manager) Issue(subject string) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("session: empty subject")
	}
	issuedAt := m.now().UTC().Truncate(time.Second)
	tok := Token{
		ID:        uuid.New(),
		Subject:   subject,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(m.lifetime),
	}

	claims := jwt.RegisteredClaims{
		ID:        tok.ID,
		Subject:   tok.Subject,
		IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
	}

	key, err := m.secret.Open()
	if err != nil {
		return Token{}, fmt.Errorf("session: opening secret: %w", err)
	}
	defer key.Destroy()

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return Token{}, fmt.Errorf("session: signing token: %w", err)
	}
	tok.Value = value
	return tok, nil
}

// Verify checks raw and returns the token's subject. The signature is
// checked before any claim, so a tampered token is always ErrInvalidToken
// regardless of its claimed expiry.
func (m *Manager) Verify(raw string) (string, error) {
	tok, err := m.parse(raw)
	if err != nil {
		return "", err
	}
	return tok.Subject, nil
}

// Revoke places a valid token on the denylist until it would have expired.
// It is a no-op when revocation is disabled.
func (m *Manager) Revoke(raw string) error {
	if m.denylist == nil {
		return nil
	}
	tok, err := m.parse(raw)
	if err != nil {
		return err
	}
	return m.denylist.Add(tok.ID, tok.ExpiresAt.Sub(m.now()))
}

// Inspect verifies raw and returns the full decoded token.
func (m *Manager) Inspect(raw string) (Token, error) {
	return m.parse(raw)
}

func (m *Manager) parse(raw string) (Token, error) {
	if raw == "" {
		return Token{}, ErrMissingToken
	}

	key, err := m.secret.Open()
	if err != nil {
		return Token{}, fmt.Errorf("session: opening secret: %w", err)
	}
	defer key.Destroy()

	var claims jwt.RegisteredClaims
	_, err = m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key.Bytes(), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Token{}, ErrInvalidToken
	default:
		return Token{}, ErrMalformedToken
	}

	if claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Token{}, ErrMalformedToken
	}
	tok := Token{
		ID:        claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Value:     raw,
	}
	if !m.now().Before(tok.ExpiresAt) {
		return Token{}, ErrExpiredToken
	}
	if m.denylist != nil && m.denylist.Contains(tok.ID) {
		return Token{}, ErrRevokedToken
	}
	return tok, nil
}
