// Package secure encrypts sensitive call fields at rest with AES-256-GCM under a key
// derived from configuration with Argon2id.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const nonceSize = 12

var ErrMalformedCiphertext = errors.New("ciphertext too short")

// FieldCipher is safe for concurrent use.
type FieldCipher struct {
	gcm cipher.AEAD
}

// NewFieldCipher derives a 32-byte key from secret and salt.
func NewFieldCipher(secret, salt string) (*FieldCipher, error) {
	if secret == "" {
		return nil, errors.New("encryption key required")
	}
	if salt == "" {
		return nil, errors.New("encryption salt required")
	}

	block, err := aes.NewCipher(deriveKey(secret, salt, 32))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrMalformedCiphertext
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
