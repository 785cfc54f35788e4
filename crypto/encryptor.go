package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrAuthDenied means the key holder refused the operation, e.g. the user
	// dismissed a hardware authorization prompt.
	ErrAuthDenied = errors.New("key authorization denied")

	// ErrAuthFailure means the ciphertext could not be opened with the key.
	ErrAuthFailure = errors.New("decryption failed")
)

// Encryptor is the key-bound encryption capability. Implementations may
// block on user interaction and must honour ctx.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

const (
	// SecretBoxKeySize is the key length NaCl secretbox expects.
	SecretBoxKeySize = 32
	nonceSize        = 24
)

// SecretBox is a software Encryptor backed by NaCl secretbox. It stands in
// for hardware-bound keys on servers and in development.
type SecretBox struct {
	key [SecretBoxKeySize]byte
}

// NewSecretBox builds a SecretBox from a 32 byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != SecretBoxKeySize {
		return nil, fmt.Errorf("%w: secretbox key must be %d bytes, got %d", ErrInvalidKey, SecretBoxKeySize, len(key))
	}
	sb := &SecretBox{}
	copy(sb.key[:], key)
	return sb, nil
}

// NewSecretBoxFromHex decodes a hex key, tolerating a 0x prefix.
func NewSecretBoxFromHex(keyHex string) (*SecretBox, error) {
	raw, err := decodeHexKey(keyHex)
	if err != nil {
		return nil, err
	}
	return NewSecretBox(raw)
}

// GenerateSecretBoxKey returns a random key.
func GenerateSecretBoxKey() ([]byte, error) {
	key := make([]byte, SecretBoxKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext behind a random nonce, which prefixes the output.
func (s *SecretBox) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (s *SecretBox) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthFailure)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
