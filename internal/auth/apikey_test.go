package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/nuget-registry/nuget-registry/internal/config"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Run("returns three non-empty values", func(t *testing.T) {
		key, hash, prefix, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if key == "" {
			t.Error("GenerateAPIKey() returned empty key")
		}
		if hash == "" {
			t.Error("GenerateAPIKey() returned empty hash")
		}
		if prefix == "" {
			t.Error("GenerateAPIKey() returned empty displayPrefix")
		}
	})

	t.Run("key starts with prefix_", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "nuget_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "nuget_")
		}
	})

	t.Run("display prefix matches key start", func(t *testing.T) {
		key, _, displayPrefix, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, displayPrefix) {
			t.Errorf("key %q does not start with displayPrefix %q", key, displayPrefix)
		}
	})

	t.Run("display prefix length is capped at DisplayPrefixLength", func(t *testing.T) {
		_, _, displayPrefix, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if len(displayPrefix) > DisplayPrefixLength {
			t.Errorf("displayPrefix len = %d, want <= %d", len(displayPrefix), DisplayPrefixLength)
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		key1, _, _, _ := GenerateAPIKey("nuget")
		key2, _, _, _ := GenerateAPIKey("nuget")
		if key1 == key2 {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})

	t.Run("custom prefix is preserved", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("myapp")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "myapp_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "myapp_")
		}
	})

	t.Run("empty prefix produces key starting with _", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "_")
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	t.Run("correct key validates", func(t *testing.T) {
		key, hash, _, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !ValidateAPIKey(key, hash) {
			t.Error("ValidateAPIKey() returned false for correct key")
		}
	})

	t.Run("wrong key does not validate", func(t *testing.T) {
		_, hash, _, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if ValidateAPIKey("nuget_wrongkey", hash) {
			t.Error("ValidateAPIKey() returned true for wrong key")
		}
	})

	t.Run("empty provided key does not validate", func(t *testing.T) {
		_, hash, _, err := GenerateAPIKey("nuget")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if ValidateAPIKey("", hash) {
			t.Error("ValidateAPIKey() returned true for empty key")
		}
	})

	t.Run("empty hash does not validate", func(t *testing.T) {
		if ValidateAPIKey("some-key", "") {
			t.Error("ValidateAPIKey() returned true for empty hash")
		}
	})

	t.Run("different key from same prefix does not validate", func(t *testing.T) {
		key1, hash1, _, _ := GenerateAPIKey("nuget")
		key2, _, _, _ := GenerateAPIKey("nuget")
		if key1 == key2 {
			t.Skip("generated identical keys, skipping")
		}
		if ValidateAPIKey(key2, hash1) {
			t.Error("ValidateAPIKey() returned true for a key from a different generation")
		}
	})
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("nuget_secret")
	if err != nil {
		t.Fatalf("HashAPIKey() error: %v", err)
	}
	if !ValidateAPIKey("nuget_secret", hash) {
		t.Error("ValidateAPIKey() returned false for the hashed key")
	}
}

func TestAuthenticator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	tests := []struct {
		name     string
		cfg      config.RegistryConfig
		provided string
		want     bool
	}{
		{"plain key matches", config.RegistryConfig{APIKey: "plain-key"}, "plain-key", true},
		{"plain key mismatch", config.RegistryConfig{APIKey: "plain-key"}, "plain-kez", false},
		{"plain key prefix only", config.RegistryConfig{APIKey: "plain-key"}, "plain", false},
		{"empty provided key", config.RegistryConfig{APIKey: "plain-key"}, "", false},
		{"hash matches", config.RegistryConfig{APIKeyHash: string(hash)}, "hashed-key", true},
		{"hash mismatch", config.RegistryConfig{APIKeyHash: string(hash)}, "other", false},
		{"hash wins over plain key", config.RegistryConfig{APIKey: "plain-key", APIKeyHash: string(hash)}, "plain-key", false},
		{"nothing configured denies", config.RegistryConfig{}, "anything", false},
		{"nothing configured denies empty", config.RegistryConfig{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(&tt.cfg)
			if got := a.Authenticate(tt.provided); got != tt.want {
				t.Errorf("Authenticate(%q) = %v, want %v", tt.provided, got, tt.want)
			}
		})
	}
}

func TestAuthenticator_Enabled(t *testing.T) {
	if NewAuthenticator(&config.RegistryConfig{}).Enabled() {
		t.Error("Enabled() = true with no key configured")
	}
	if !NewAuthenticator(&config.RegistryConfig{APIKey: "k"}).Enabled() {
		t.Error("Enabled() = false with a plain key configured")
	}
	if !NewAuthenticator(&config.RegistryConfig{APIKeyHash: "h"}).Enabled() {
		t.Error("Enabled() = false with a hash configured")
	}
}
