package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// keyPrefix identifies forgehook-issued API keys in logs and UIs.
const keyPrefix = "fhk_"

// displayPrefixLen is how much of the plaintext key is retained
// (unhashed) for display purposes after issuance.
const displayPrefixLen = 12

// GenerateAPIKey generates a secure random API key. Returns the plaintext
// key (shown once, to the caller, never stored), its bcrypt hash, and a
// short display prefix safe to keep alongside the hash.
func GenerateAPIKey() (plaintext string, hash string, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	plaintext = keyPrefix + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes)

	hash, err = HashPassword(plaintext)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	prefix = plaintext
	if len(prefix) > displayPrefixLen {
		prefix = prefix[:displayPrefixLen]
	}
	return plaintext, hash, prefix, nil
}

// CheckAPIKey verifies if a plaintext API key matches the hash.
func CheckAPIKey(hash, plaintext string) error {
	return CheckPassword(hash, plaintext)
}
