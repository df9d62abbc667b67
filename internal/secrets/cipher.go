// Package secrets encrypts provider account tokens at rest using age encryption.
package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/age"
)

var (
	// ErrNoPublicKey is returned when no public key is configured for encryption.
	ErrNoPublicKey = errors.New("no public key configured for encryption")
	// ErrNoPrivateKey is returned when no private key is configured for decryption.
	ErrNoPrivateKey = errors.New("no private key configured for decryption")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
)

// TokenCipher encrypts and decrypts account tokens with an age key pair.
// Tokens are encrypted before they touch the database and decrypted only
// when a provider client is constructed.
type TokenCipher struct {
	publicKey  *age.X25519Recipient
	privateKey *age.X25519Identity
	logger     *slog.Logger
}

// Config holds the key material for a TokenCipher.
type Config struct {
	// AgePublicKey is the age public key for encryption.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey is the age private key for decryption.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// NewTokenCipher creates a cipher from the given configuration.
// At least one of public key (for encryption) or private key (for decryption)
// must be provided.
func NewTokenCipher(cfg *Config, logger *slog.Logger) (*TokenCipher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &TokenCipher{logger: logger}

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		c.publicKey = recipient
	}

	if cfg.AgePrivateKey != "" {
		identity, err := age.ParseX25519Identity(cfg.AgePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
		}
		c.privateKey = identity
	}

	return c, nil
}

// Encrypt encrypts plaintext with the configured public key.
func (c *TokenCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c.publicKey == nil {
		return nil, ErrNoPublicKey
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.publicKey)
	if err != nil {
		c.logger.Error("failed to create age encryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return buf.Bytes(), nil
}

// Decrypt decrypts age-encrypted ciphertext with the configured private key.
func (c *TokenCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if c.privateKey == nil {
		return nil, ErrNoPrivateKey
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.privateKey)
	if err != nil {
		c.logger.Error("failed to create age decryptor", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// EncryptString encrypts a token and encodes the ciphertext as base64 so it
// can be stored in a text column.
func (c *TokenCipher) EncryptString(ctx context.Context, token string) (string, error) {
	ciphertext, err := c.Encrypt(ctx, []byte(token))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString reverses EncryptString.
func (c *TokenCipher) DecryptString(ctx context.Context, encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := c.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// CanEncrypt returns true if the cipher is configured for encryption.
func (c *TokenCipher) CanEncrypt() bool {
	return c.publicKey != nil
}

// CanDecrypt returns true if the cipher is configured for decryption.
func (c *TokenCipher) CanDecrypt() bool {
	return c.privateKey != nil
}

// PublicKey returns the configured public key string, or empty if not configured.
func (c *TokenCipher) PublicKey() string {
	if c.publicKey == nil {
		return ""
	}
	return c.publicKey.String()
}

// GenerateKeyPair generates a new age key pair.
// Returns the public key (for encryption) and private key (for decryption).
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age key pair: %w", err)
	}

	return identity.Recipient().String(), identity.String(), nil
}
