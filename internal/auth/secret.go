package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretMarker is the leading marker of every issued credential.
	SecretMarker = "sk-proj-"

	// prefixRandomChars is how many characters past the marker go into the
	// persisted display prefix. The marker alone is constant across all
	// credentials, so the indexed lookup prefix has to include part of the
	// random tail. Eight characters of url-safe base64 reveal 48 bits,
	// leaving 208 bits of entropy behind the hash.
	prefixRandomChars = 8

	secretRandomBytes = 32
)

// GenerateSecret returns a new plaintext credential secret:
// "sk-proj-" followed by url-safe base64 of 32 random bytes.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return SecretMarker + base64.RawURLEncoding.EncodeToString(buf), nil
}

// DisplayPrefix derives the non-secret, indexed lookup prefix from a
// plaintext secret, e.g. "sk-proj-Ab3xYz91".
func DisplayPrefix(secret string) string {
	n := len(SecretMarker) + prefixRandomChars
	if len(secret) < n {
		return secret
	}
	return secret[:n]
}

// WellFormed checks that a presented secret at least looks like one we
// could have issued, before any store round trip.
func WellFormed(secret string) bool {
	return strings.HasPrefix(secret, SecretMarker) &&
		len(secret) > len(SecretMarker)+prefixRandomChars
}

// HashSecret derives a one-way bcrypt hash of the plaintext secret.
// The cost should be tuned so comparison takes roughly 50-100ms.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// CompareSecret performs a constant-time comparison of a presented secret
// against a stored hash.
func CompareSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
