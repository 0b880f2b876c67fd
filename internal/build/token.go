package build

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns a fresh callback token: 32 random bytes, URL-safe
// base64 encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
