// Package cryptobox implements the authenticated-encryption codec used to
// protect conversation text at rest. It wraps a single long-lived AES-256-GCM
// key and binds every ciphertext to its owning conversation identity through
// additional authenticated data, so a record copied between threads or
// channels fails authentication instead of decrypting.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// SchemeVersion identifies the current encryption layout:
	// AES-256-GCM, 12-byte random nonce, 16-byte tag stored separately.
	SchemeVersion = 1

	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

var (
	// ErrInvalidKeyLength is returned by New when the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("cryptobox: key must be exactly 32 bytes")

	// ErrKeyUnavailable is returned when no valid key has been configured.
	ErrKeyUnavailable = errors.New("cryptobox: no encryption key configured")

	// ErrAuthenticationFailed is returned when a record's tag does not
	// verify against the ciphertext, AAD, and key. It covers wrong key,
	// corrupted ciphertext, and cross-context AAD mismatch alike.
	ErrAuthenticationFailed = errors.New("cryptobox: authentication failed")
)

// Record is the at-rest representation of an encrypted text.
type Record struct {
	Ciphertext []byte
	Nonce      []byte
	AuthTag    []byte
	Version    int
}

// Codec seals and opens conversation text under one immutable key. The AEAD
// is constructed once at startup; Encrypt and Decrypt share no mutable state
// and are safe to call from any number of goroutines.
type Codec struct {
	aead cipher.AEAD
}

// New builds a Codec from a 32-byte key. The key is held in memory for the
// process lifetime and must never be logged or persisted.
func New(key []byte) (*Codec, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce, binding aad into the
// authentication tag. Nonces are drawn from crypto/rand on every call; there
// is no counter state to reset across restarts.
func (c *Codec) Encrypt(plaintext string, aad []byte) (Record, error) {
	if c == nil || c.aead == nil {
		return Record{}, ErrKeyUnavailable
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Record{}, fmt.Errorf("cryptobox: nonce generation: %w", err)
	}

	// Seal appends the 16-byte tag to the ciphertext; store them separately.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), aad)
	split := len(sealed) - tagSize

	rec := Record{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		AuthTag:    sealed[split:],
		Version:    SchemeVersion,
	}
	return rec, nil
}

// Decrypt opens a record previously produced by Encrypt. The caller must
// supply the exact aad used at encryption time. On any verification failure
// it returns ErrAuthenticationFailed and no plaintext, partial or otherwise.
func (c *Codec) Decrypt(rec Record, aad []byte) (string, error) {
	if c == nil || c.aead == nil {
		return "", ErrKeyUnavailable
	}
	if rec.Version != SchemeVersion {
		return "", fmt.Errorf("cryptobox: unsupported scheme version %d: %w", rec.Version, ErrAuthenticationFailed)
	}
	if len(rec.Nonce) != nonceSize || len(rec.AuthTag) != tagSize {
		return "", ErrAuthenticationFailed
	}

	sealed := make([]byte, 0, len(rec.Ciphertext)+tagSize)
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.AuthTag...)

	plaintext, err := c.aead.Open(nil, rec.Nonce, sealed, aad)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}
