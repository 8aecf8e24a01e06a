// Package auth provides API key generation and validation for the registry.
// Pushing, deleting and relisting packages require the key configured in
// registry.api_key (plaintext) or registry.api_key_hash (bcrypt). See
// internal/middleware/auth.go for the request-time check.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nuget-registry/nuget-registry/internal/config"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateAPIKey creates a new random API key with the given prefix
// Returns: full key (to show once), bcrypt hash (to store), display prefix
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	_, err = rand.Read(randomBytes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hash, err = HashAPIKey(fullKey)
	if err != nil {
		return "", "", "", err
	}

	displayPrefixStr := fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefixStr = fullKey[:DisplayPrefixLength]
	}

	return fullKey, hash, displayPrefixStr, nil
}

// HashAPIKey returns the bcrypt hash to place in registry.api_key_hash
func HashAPIKey(key string) (string, error) {
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hashBytes), nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey))
	return err == nil
}

// Authenticator checks the API key sent with write requests
type Authenticator struct {
	key  string
	hash string
}

// NewAuthenticator builds an authenticator from the registry settings. With neither
// a key nor a hash configured every request is denied.
func NewAuthenticator(cfg *config.RegistryConfig) *Authenticator {
	return &Authenticator{key: cfg.APIKey, hash: cfg.APIKeyHash}
}

// Authenticate reports whether provided is the configured key
func (a *Authenticator) Authenticate(provided string) bool {
	if provided == "" {
		return false
	}
	if a.hash != "" {
		return ValidateAPIKey(provided, a.hash)
	}
	if a.key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(a.key)) == 1
}

// Enabled reports whether any key is configured
func (a *Authenticator) Enabled() bool {
	return a.key != "" || a.hash != ""
}
