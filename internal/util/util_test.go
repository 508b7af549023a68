package util

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	b1, err := RandomBytes(32)
	require.NoError(t, err)
	b2, err := RandomBytes(32)
	require.NoError(t, err)

	assert.Len(t, b1, 32)
	assert.NotEqual(t, b1, b2)
}

func TestRandomSecret(t *testing.T) {
	s, err := RandomSecret(48)
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 48)

	other, err := RandomSecret(48)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestRandomSecret_EnforcesMinimum(t *testing.T) {
	s, err := RandomSecret(4)
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, MinSecretBytes)
	assert.GreaterOrEqual(t, len(s), 32)
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)

	WipeBytes(nil)
}
