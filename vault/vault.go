// Package vault protects mailbox credentials at rest and hashes webmail login secrets.
//
// The two halves never share material: Encrypt/Decrypt use the process-wide vault key,
// while HashLoginSecret/VerifyLoginSecret are keyless, salted and one-way.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes (64 hex characters).
	KeySize = 32
	ivSize  = 16
	tagSize = 16
)

var (
	// ErrNoKey is returned when no vault key was provisioned.
	ErrNoKey = errors.New("vault key is not set")
	// ErrMalformedKey is returned when the vault key is not 32 hex-encoded bytes.
	ErrMalformedKey = errors.New("vault key must be 64 hex characters")
	// ErrDecrypt is returned for any credential that cannot be authenticated and opened.
	ErrDecrypt = errors.New("credential cannot be decrypted")
)

// Vault encrypts and decrypts mailbox passwords with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a hex-encoded 32-byte key.
func New(hexKey string) (*Vault, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrNoKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != KeySize {
		return nil, ErrMalformedKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV and returns "iv:tag:ciphertext" in hex.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext)), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed input, tag mismatch or key
// mismatch yields ErrDecrypt; partial plaintext is never returned.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected iv:tag:ciphertext", ErrDecrypt)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: bad iv", ErrDecrypt)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag", ErrDecrypt)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecrypt)
	}

	plaintext, err := v.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}
