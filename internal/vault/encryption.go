package vault

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/charlesng35/robotdesk/pkg/crypto"
)

const defaultSaltLength = 16

// Argon2Parameters controls the cost factors for Argon2id key derivation.
type Argon2Parameters struct {
	Time      uint32
	Memory    uint32 // kibibytes
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params returns the parameters used to derive the secret encryption key.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024,
		Threads:   4,
		KeyLength: 32,
	}
}

// Validate ensures the parameters are suitable for Argon2id key derivation.
func (p Argon2Parameters) Validate() error {
	if p.Time == 0 {
		return fmt.Errorf("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	switch p.KeyLength {
	case 16, 24, 32:
	default:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// Crypto encrypts robot credentials at rest with an AES-GCM key derived from the configured master key.
type Crypto struct {
	key  []byte
	salt []byte
}

type cryptoConfig struct {
	params Argon2Parameters
	salt   []byte
}

// Option configures the vault crypto helper.
type Option func(*cryptoConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) Option {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return func(cfg *cryptoConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 parameters used during key derivation.
func WithArgon2Parameters(params Argon2Parameters) Option {
	return func(cfg *cryptoConfig) {
		cfg.params = params
	}
}

// NewCrypto derives an AES key from the provided master key using Argon2id.
func NewCrypto(masterKey []byte, opts ...Option) (*Crypto, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("vault crypto: master key is required")
	}

	cfg := cryptoConfig{params: DefaultArgon2Params()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.salt) == 0 {
		cfg.salt = deriveSalt(masterKey)
	} else if len(cfg.salt) < defaultSaltLength {
		return nil, fmt.Errorf("vault crypto: salt must be at least %d bytes (got %d)", defaultSaltLength, len(cfg.salt))
	}
	if err := cfg.params.Validate(); err != nil {
		return nil, fmt.Errorf("vault crypto: %w", err)
	}

	derived := argon2.IDKey(masterKey, cfg.salt, cfg.params.Time, cfg.params.Memory, cfg.params.Threads, cfg.params.KeyLength)
	return &Crypto{
		key:  derived,
		salt: append([]byte(nil), cfg.salt...),
	}, nil
}

// EncryptString seals a secret for storage.
func (c *Crypto) EncryptString(plaintext string) (string, error) {
	if len(c.key) == 0 {
		return "", errors.New("vault crypto: key is not initialised")
	}
	return crypto.Encrypt([]byte(plaintext), c.key)
}

// DecryptString opens a value produced by EncryptString.
func (c *Crypto) DecryptString(ciphertext string) (string, error) {
	if len(c.key) == 0 {
		return "", errors.New("vault crypto: key is not initialised")
	}
	plain, err := crypto.Decrypt(ciphertext, c.key)
	if err != nil {
		return "", fmt.Errorf("vault crypto: decrypt: %w", err)
	}
	return string(plain), nil
}

// Key returns a copy of the derived key bytes.
func (c *Crypto) Key() []byte {
	return append([]byte(nil), c.key...)
}

// Salt returns a copy of the salt used during derivation.
func (c *Crypto) Salt() []byte {
	return append([]byte(nil), c.salt...)
}

func deriveSalt(masterKey []byte) []byte {
	sum := sha256.Sum256(masterKey)
	return sum[:defaultSaltLength]
}
