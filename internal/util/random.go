package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// MinSecretBytes is the entropy of a generated signing secret. Its base64
// form is comfortably above config.MinSecretLen characters.
const MinSecretBytes = 32

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomSecret returns n random bytes as unpadded URL-safe base64, suitable
// for LEAFGATE_SESSION_SECRET. n below MinSecretBytes is raised to it.
func RandomSecret(n int) (string, error) {
	if n < MinSecretBytes {
		n = MinSecretBytes
	}
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	defer WipeBytes(b)
	return base64.RawURLEncoding.EncodeToString(b), nil
}
