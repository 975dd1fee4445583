package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SealedBlobVersion prefixes every sealed blob and is authenticated as part of
// the AEAD additional data.
const SealedBlobVersion byte = 0x01

// SealedBlobOverhead is the per-blob size overhead: version, nonce, and tag.
const SealedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// MinSecretLen is the shortest accepted sealing secret.
const MinSecretLen = 32

var hkdfInfoSessionSeal = []byte("gorenew.session.seal.v1")

var (
	// ErrSealedBlobInvalid is returned when a blob fails to authenticate under every key.
	ErrSealedBlobInvalid = errors.New("sealed session blob invalid")
	// ErrSecretTooShort is returned by [NewSealer] for secrets under [MinSecretLen] bytes.
	ErrSecretTooShort = errors.New("session secret too short")
)

// Sealer encrypts and authenticates encoded sessions with XChaCha20-Poly1305.
//
// The first secret seals; every secret is tried on open, so secrets can be
// rotated by prepending the new one and keeping the old one until sessions
// sealed under it have expired.
type Sealer struct {
	aeads []cipher.AEAD
}

// NewSealer derives one AEAD per secret with HKDF-SHA256.
func NewSealer(secrets ...[]byte) (*Sealer, error) {
	if len(secrets) == 0 {
		return nil, ErrSecretTooShort
	}

	s := &Sealer{aeads: make([]cipher.AEAD, 0, len(secrets))}
	for i, secret := range secrets {
		if len(secret) < MinSecretLen {
			return nil, fmt.Errorf("%w: secret %d has %d bytes", ErrSecretTooShort, i, len(secret))
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfoSessionSeal), key); err != nil {
			return nil, fmt.Errorf("deriving session key: %w", err)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
		}
		s.aeads = append(s.aeads, aead)
	}
	return s, nil
}

// Seal encrypts plaintext bound to principalID:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag]
func (s *Sealer) Seal(principalID string, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 0, len(plaintext)+SealedBlobOverhead)
	out = append(out, SealedBlobVersion)
	out = append(out, nonce[:]...)
	return s.aeads[0].Seal(out, nonce[:], plaintext, buildAAD(principalID)), nil
}

// Open authenticates and decrypts a blob produced by [Sealer.Seal] for the same
// principalID.
func (s *Sealer) Open(principalID string, blob []byte) ([]byte, error) {
	if len(blob) < SealedBlobOverhead || blob[0] != SealedBlobVersion {
		return nil, ErrSealedBlobInvalid
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]
	aad := buildAAD(principalID)

	for _, aead := range s.aeads {
		plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrSealedBlobInvalid
}

func buildAAD(principalID string) []byte {
	aad := make([]byte, 0, 1+len(principalID))
	aad = append(aad, SealedBlobVersion)
	return append(aad, principalID...)
}
