package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charlesng35/robotdesk/pkg/crypto"
)

const (
	jwtSecretBytes   = 48
	vaultSecretBytes = 32
)

// Keys reported by ApplyRuntimeDefaults.
const (
	GeneratedJWTSecret = "auth.jwt.secret"
	GeneratedVaultKey  = "vault.encryption_key"
)

// ApplyRuntimeDefaults populates secrets missing from the configuration. The returned map names the
// generated keys so callers can persist them and log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated[GeneratedJWTSecret] = true
	}

	if strings.TrimSpace(cfg.Vault.EncryptionKey) == "" {
		secret, err := generateHexKey(vaultSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate vault encryption key: %w", err)
		}
		cfg.Vault.EncryptionKey = secret
		generated[GeneratedVaultKey] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
