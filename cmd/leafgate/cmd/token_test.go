package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/config"
	"github.com/jmcleod/leafgate/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, secret string, lifetime time.Duration, now time.Time) *session.Manager {
	t.Helper()
	m, err := session.NewManager(config.Session{Secret: secret, Lifetime: lifetime},
		session.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return m
}

func checkStatus(result tokenResult, name string) string {
	for _, c := range result.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestVerifyToken_Valid(t *testing.T) {
	m := newTestManager(t, testSecret, time.Hour, testNow)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	result := verifyToken(m, tok.Value, testNow)

	assert.True(t, result.Valid)
	assert.Equal(t, "principal-1", result.Subject)
	assert.Equal(t, tok.ID, result.TokenID)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *result.ExpiresAt)
	for _, name := range []string{"structure", "signature", "expiry", "lifetime"} {
		assert.Equal(t, "pass", checkStatus(result, name), name)
	}
	assert.Equal(t, revocationNote, result.Note)
}

func TestVerifyToken_Malformed(t *testing.T) {
	m := newTestManager(t, testSecret, time.Hour, testNow)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		result := verifyToken(m, raw, testNow)
		assert.False(t, result.Valid, raw)
		assert.Equal(t, "fail", checkStatus(result, "structure"), raw)
		assert.Empty(t, checkStatus(result, "signature"), raw)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	issuer := newTestManager(t, strings.Repeat("x", 32), time.Hour, testNow)
	tok, err := issuer.Issue("principal-1")
	require.NoError(t, err)

	m := newTestManager(t, testSecret, time.Hour, testNow)
	result := verifyToken(m, tok.Value, testNow)

	assert.False(t, result.Valid)
	assert.Equal(t, "pass", checkStatus(result, "structure"))
	assert.Equal(t, "fail", checkStatus(result, "signature"))
	assert.Empty(t, result.Subject, "claims of an unverified token are not reported")
}

func TestVerifyToken_Expired(t *testing.T) {
	issuer := newTestManager(t, testSecret, time.Hour, testNow)
	tok, err := issuer.Issue("principal-1")
	require.NoError(t, err)

	later := testNow.Add(2 * time.Hour)
	m := newTestManager(t, testSecret, time.Hour, later)
	result := verifyToken(m, tok.Value, later)

	assert.False(t, result.Valid)
	assert.Equal(t, "pass", checkStatus(result, "signature"))
	assert.Equal(t, "fail", checkStatus(result, "expiry"))
	assert.Equal(t, "principal-1", result.Subject)
}

func TestVerifyToken_LifetimeMismatchIsWarning(t *testing.T) {
	issuer := newTestManager(t, testSecret, 24*time.Hour, testNow)
	tok, err := issuer.Issue("principal-1")
	require.NoError(t, err)

	m := newTestManager(t, testSecret, time.Hour, testNow)
	result := verifyToken(m, tok.Value, testNow)

	assert.True(t, result.Valid)
	assert.Equal(t, "warn", checkStatus(result, "lifetime"))
}

func TestPrintHumanResult(t *testing.T) {
	m := newTestManager(t, testSecret, time.Hour, testNow)

	var buf bytes.Buffer
	printHumanResult(&buf, verifyToken(m, "garbage", testNow))
	out := buf.String()
	assert.Contains(t, out, "[FAIL] structure")
	assert.Contains(t, out, "[INFO] "+revocationNote)
	assert.Contains(t, out, "Result: INVALID (1 error(s), 0 warning(s))")

	tok, err := m.Issue("principal-1")
	require.NoError(t, err)
	buf.Reset()
	printHumanResult(&buf, verifyToken(m, tok.Value, testNow))
	assert.Contains(t, buf.String(), "Subject:  principal-1")
	assert.Contains(t, buf.String(), "Result: VALID")
}

func TestPrintJSONResult(t *testing.T) {
	m := newTestManager(t, testSecret, time.Hour, testNow)
	tok, err := m.Issue("principal-1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printJSONResult(&buf, verifyToken(m, tok.Value, testNow)))

	var decoded tokenResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.True(t, decoded.Valid)
	assert.Equal(t, "principal-1", decoded.Subject)
	assert.Len(t, decoded.Checks, 4)
}

func TestReadToken(t *testing.T) {
	got, err := readToken("  abc.def.ghi ", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", got)

	got, err = readToken("-", strings.NewReader("from.stdin.tok\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "from.stdin.tok", got)

	got, err = readToken("-", strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", got)
}
