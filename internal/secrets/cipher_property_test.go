package secrets

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()

	publicKey, privateKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	c, err := NewTokenCipher(&Config{
		AgePublicKey:  publicKey,
		AgePrivateKey: privateKey,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	return c
}

// For any token value, encrypting and then decrypting produces the original value.
func TestTokenEncryptionRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("encrypt then decrypt returns original plaintext", prop.ForAll(
		func(plaintext []byte) bool {
			ctx := context.Background()

			ciphertext, err := c.Encrypt(ctx, plaintext)
			if err != nil {
				t.Logf("encryption failed: %v", err)
				return false
			}

			decrypted, err := c.Decrypt(ctx, ciphertext)
			if err != nil {
				t.Logf("decryption failed: %v", err)
				return false
			}

			return bytes.Equal(plaintext, decrypted)
		},
		gen.SliceOf(gen.UInt8()).Map(func(vals []uint8) []byte {
			result := make([]byte, len(vals))
			for i, v := range vals {
				result[i] = byte(v)
			}
			return result
		}),
	))

	properties.TestingRun(t)
}

// The base64 string form round-trips the same way.
func TestTokenStringRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("EncryptString then DecryptString returns original token", prop.ForAll(
		func(token string) bool {
			ctx := context.Background()

			encoded, err := c.EncryptString(ctx, token)
			if err != nil {
				t.Logf("encryption failed: %v", err)
				return false
			}

			// The stored form must never equal the plaintext token.
			if token != "" && encoded == token {
				return false
			}

			decrypted, err := c.DecryptString(ctx, encoded)
			if err != nil {
				t.Logf("decryption failed: %v", err)
				return false
			}

			return decrypted == token
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestKeyPairGeneration verifies that key pair generation works correctly.
func TestKeyPairGeneration(t *testing.T) {
	publicKey, privateKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	if publicKey == "" {
		t.Error("public key is empty")
	}
	if privateKey == "" {
		t.Error("private key is empty")
	}

	if len(publicKey) < 4 || publicKey[:4] != "age1" {
		t.Errorf("public key has unexpected format: %s", publicKey)
	}
	if len(privateKey) < 16 || privateKey[:16] != "AGE-SECRET-KEY-1" {
		t.Errorf("private key has unexpected format")
	}
}

// TestEncryptWithoutPublicKey verifies that encryption fails without a public key.
func TestEncryptWithoutPublicKey(t *testing.T) {
	c, err := NewTokenCipher(&Config{}, testLogger())
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	_, err = c.Encrypt(context.Background(), []byte("test"))
	if err != ErrNoPublicKey {
		t.Errorf("expected ErrNoPublicKey, got: %v", err)
	}
}

// TestDecryptWithoutPrivateKey verifies that decryption fails without a private key.
func TestDecryptWithoutPrivateKey(t *testing.T) {
	publicKey, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	// Encryption-only cipher, like the API server in production.
	c, err := NewTokenCipher(&Config{AgePublicKey: publicKey}, testLogger())
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	ciphertext, err := c.Encrypt(context.Background(), []byte("test"))
	if err != nil {
		t.Fatalf("encryption failed: %v", err)
	}

	_, err = c.Decrypt(context.Background(), ciphertext)
	if err != ErrNoPrivateKey {
		t.Errorf("expected ErrNoPrivateKey, got: %v", err)
	}
}

// TestCanEncryptCanDecrypt verifies the capability check methods.
func TestCanEncryptCanDecrypt(t *testing.T) {
	publicKey, privateKey, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	tests := []struct {
		name       string
		config     *Config
		canEncrypt bool
		canDecrypt bool
	}{
		{
			name:       "no keys",
			config:     &Config{},
			canEncrypt: false,
			canDecrypt: false,
		},
		{
			name:       "public key only",
			config:     &Config{AgePublicKey: publicKey},
			canEncrypt: true,
			canDecrypt: false,
		},
		{
			name:       "private key only",
			config:     &Config{AgePrivateKey: privateKey},
			canEncrypt: false,
			canDecrypt: true,
		},
		{
			name:       "both keys",
			config:     &Config{AgePublicKey: publicKey, AgePrivateKey: privateKey},
			canEncrypt: true,
			canDecrypt: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewTokenCipher(tt.config, testLogger())
			if err != nil {
				t.Fatalf("failed to create cipher: %v", err)
			}

			if c.CanEncrypt() != tt.canEncrypt {
				t.Errorf("CanEncrypt() = %v, want %v", c.CanEncrypt(), tt.canEncrypt)
			}
			if c.CanDecrypt() != tt.canDecrypt {
				t.Errorf("CanDecrypt() = %v, want %v", c.CanDecrypt(), tt.canDecrypt)
			}
		})
	}
}
