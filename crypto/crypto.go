package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/cometbft/cometbft/crypto/tmhash"
)

var (
	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = errors.New("invalid key")
)

// Signer signs envelopes with the owner's ed25519 key.
type Signer struct {
	priv ed25519.PrivKey
}

// NewSigner wraps an ed25519 private key (64 bytes).
func NewSigner(priv []byte) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: signing key must be %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(priv))
	}
	return &Signer{priv: ed25519.PrivKey(priv)}, nil
}

// NewSignerFromHex decodes a hex private key, tolerating a 0x prefix.
func NewSignerFromHex(privHex string) (*Signer, error) {
	raw, err := decodeHexKey(privHex)
	if err != nil {
		return nil, err
	}
	return NewSigner(raw)
}

// GenerateSigner creates a fresh random signing key.
func GenerateSigner() *Signer {
	return &Signer{priv: ed25519.GenPrivKey()}
}

// Sign a message using the private key
func (s *Signer) Sign(message []byte) ([]byte, error) {
	return s.priv.Sign(message)
}

// PubKey returns the raw public key bytes.
func (s *Signer) PubKey() []byte {
	return s.priv.PubKey().Bytes()
}

// PrivKeyHex returns the private key hex encoded, for keygen output.
func (s *Signer) PrivKeyHex() string {
	return hex.EncodeToString(s.priv.Bytes())
}

// VerifySignature checks sig over message against a raw public key.
func VerifySignature(pubKey, message, sig []byte) bool {
	if len(pubKey) != ed25519.PubKeySize {
		return false
	}
	return ed25519.PubKey(pubKey).VerifySignature(message, sig)
}

// HashData returns the hex encoded SHA256 of data.
func HashData(data []byte) string {
	return hex.EncodeToString(tmhash.Sum(data))
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: hex decoding failed: %v", ErrInvalidKey, err)
	}
	return raw, nil
}
