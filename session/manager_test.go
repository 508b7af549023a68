package session

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := NewManager(config.Session{Secret: testSecret, Lifetime: time.Hour}, opts...)
	require.NoError(t, err)
	return m, clock
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager(config.Session{Lifetime: time.Hour})
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, config.ErrMissing)

	_, err = NewManager(config.Session{Secret: "short", Lifetime: time.Hour})
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "session.secret", cfgErr.Field)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	m, clock := newTestManager(t)

	tok, err := m.Issue("principal-42")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tok.ExpiresAt.Sub(tok.IssuedAt))
	assert.NotEmpty(t, tok.ID)

	subject, err := m.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "principal-42", subject)

	// Still valid one second before expiry.
	clock.Advance(time.Hour - time.Second)
	subject, err = m.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "principal-42", subject)
}

func TestVerify_RoundTripManySubjects(t *testing.T) {
	m, _ := newTestManager(t)
	for _, subject := range []string{"1", "a@b.com", "0b9c6a1e-2f0e-4f0c-9d53-5f7c1d2f4b11", strings.Repeat("x", 512)} {
		tok, err := m.Issue(subject)
		require.NoError(t, err)
		got, err := m.Verify(tok.Value)
		require.NoError(t, err)
		assert.Equal(t, subject, got)
	}
}

func TestVerify_FlippedSignatureByteIsInvalid(t *testing.T) {
	m, _ := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	parts := strings.Split(tok.Value, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := range sig {
		tampered := append([]byte(nil), sig...)
		tampered[i] ^= 0x01
		raw := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(tampered)

		_, err := m.Verify(raw)
		require.ErrorIs(t, err, ErrInvalidToken, "byte %d", i)
	}
}

func TestVerify_TamperedClaimsAreInvalid(t *testing.T) {
	m, _ := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	parts := strings.Split(tok.Value, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), "principal-1", "principal-2", 1)
	raw := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[2]

	_, err = m.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ExpiredWithValidSignature(t *testing.T) {
	m, clock := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = m.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrExpiredToken)

	clock.Advance(24 * time.Hour)
	_, err = m.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_TamperedExpiredTokenIsInvalidNotExpired(t *testing.T) {
	m, clock := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	raw := tok.Value[:len(tok.Value)-2] + flipChar(tok.Value[len(tok.Value)-2])
	_, err = m.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func flipChar(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}

func TestVerify_WrongSecretIsInvalid(t *testing.T) {
	m, _ := newTestManager(t)
	other, err := NewManager(config.Session{Secret: strings.Repeat("z", 32), Lifetime: time.Hour})
	require.NoError(t, err)

	tok, err := other.Issue("principal-1")
	require.NoError(t, err)

	_, err = m.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MalformedInputs(t *testing.T) {
	m, _ := newTestManager(t)

	cases := map[string]string{
		"garbage":        "not-a-token",
		"two segments":   "abc.def",
		"four segments":  "a.b.c.d",
		"bad base64":     "!!!.@@@.###",
		"binary":         string([]byte{0x00, 0xff, 0x2e, 0x2e}),
		"json header":    base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"`)) + ".e30.sig",
		"just dots":      "..",
		"whitespace":     "   ",
		"unicode":        "токен.токен.токен",
		"very long junk": strings.Repeat("a", 10000),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := m.Verify(raw)
				require.Error(t, err)
				assert.True(t,
					errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrInvalidToken),
					"unexpected error %v", err)
			})
		})
	}

	_, err := m.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerify_MissingClaimsAreMalformed(t *testing.T) {
	m, _ := newTestManager(t)

	// Correctly signed but without an expiry or token ID.
	claims := jwt.RegisteredClaims{Subject: "principal-1"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = m.Verify(raw)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	m, clock := newTestManager(t)
	claims := jwt.RegisteredClaims{
		ID:        "id",
		Subject:   "principal-1",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Verify(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = m.Verify(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	m, clock := newTestManager(t, WithDenylist(NewDenylist(1)))

	tok, err := m.Issue("principal-1")
	require.NoError(t, err)
	other, err := m.Issue("principal-1")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(tok.Value))

	_, err = m.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrRevokedToken)

	_, err = m.Verify(other.Value)
	assert.NoError(t, err, "revoking one token must not affect another")

	clock.Advance(2 * time.Hour)
	_, err = m.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRevoke_DisabledIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(tok.Value))
	_, err = m.Verify(tok.Value)
	assert.NoError(t, err)
}

func TestVerify_Concurrent(t *testing.T) {
	m, _ := newTestManager(t)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Verify(tok.Value); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent verify failed: %v", err)
	}
}
