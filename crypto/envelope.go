package crypto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cometbft/cometbft/crypto/tmhash"
)

const envelopeVersion = 1

var (
	// ErrMalformedEnvelope is returned when a blob is not a sealed envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrOwnerMismatch is returned when an envelope names a different owner.
	ErrOwnerMismatch = errors.New("envelope owner mismatch")

	// ErrBadSignature is returned when the envelope signature does not verify
	// against the trusted key.
	ErrBadSignature = errors.New("envelope signature invalid")
)

// Envelope is the wire form of a sealed payload. The ciphertext is bound to
// the owner by an optional ed25519 signature.
type Envelope struct {
	Version    int    `json:"v"`
	Owner      string `json:"owner"`
	Ciphertext []byte `json:"ct"`
	PubKey     []byte `json:"pub,omitempty"`
	Signature  []byte `json:"sig,omitempty"`
}

func (e Envelope) signBytes() []byte {
	buf := make([]byte, 0, len(e.Owner)+1+len(e.Ciphertext))
	buf = append(buf, e.Owner...)
	buf = append(buf, 0)
	buf = append(buf, e.Ciphertext...)
	return tmhash.Sum(buf)
}

// Sealer encrypts and signs payloads on the way out and verifies and
// decrypts them on the way back.
type Sealer struct {
	enc     Encryptor
	signer  *Signer
	trusted []byte
}

// NewSealer builds a Sealer. signer may be nil, in which case envelopes are
// unsigned and signatures are not checked on open.
func NewSealer(enc Encryptor, signer *Signer) *Sealer {
	s := &Sealer{enc: enc, signer: signer}
	if signer != nil {
		s.trusted = signer.PubKey()
	}
	return s
}

// Seal encrypts plaintext for owner and wraps it in a signed envelope.
func (s *Sealer) Seal(ctx context.Context, owner string, plaintext []byte) ([]byte, error) {
	ct, err := s.enc.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	env := Envelope{Version: envelopeVersion, Owner: owner, Ciphertext: ct}
	if s.signer != nil {
		sig, err := s.signer.Sign(env.signBytes())
		if err != nil {
			return nil, fmt.Errorf("failed to sign envelope: %w", err)
		}
		env.PubKey = s.signer.PubKey()
		env.Signature = sig
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Open verifies an envelope written for owner and returns the plaintext.
func (s *Sealer) Open(ctx context.Context, owner string, blob []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Version != envelopeVersion || len(env.Ciphertext) == 0 {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedEnvelope, env.Version)
	}
	if env.Owner != owner {
		return nil, fmt.Errorf("%w: got %q", ErrOwnerMismatch, env.Owner)
	}
	if s.trusted != nil {
		if !bytes.Equal(env.PubKey, s.trusted) || !VerifySignature(s.trusted, env.signBytes(), env.Signature) {
			return nil, ErrBadSignature
		}
	}

	plaintext, err := s.enc.Decrypt(ctx, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plaintext, nil
}
