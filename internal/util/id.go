package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed ("usr_…").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IsUUID reports whether value is a canonical UUID string.
func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil && len(value) == 36
}

// NewSecret returns n random bytes hex-encoded, for opaque refresh tokens.
func NewSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
