package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinMasterKeyBytes is the shortest vault master key accepted at startup.
const MinMasterKeyBytes = 16

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// Hex is tried first since generated keys use it; anything that is neither
// hex nor base64 is taken as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// MasterKey decodes the vault encryption key used to seal robot client secrets.
func (c VaultConfig) MasterKey() ([]byte, error) {
	key, err := DecodeKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("vault.encryption_key: %w", err)
	}
	if len(key) < MinMasterKeyBytes {
		return nil, fmt.Errorf("vault.encryption_key: must decode to at least %d bytes (got %d)", MinMasterKeyBytes, len(key))
	}
	return key, nil
}
