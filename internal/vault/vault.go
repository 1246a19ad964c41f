// Package vault provides authenticated symmetric encryption for upstream API
// credentials at rest.
//
// Tokens are wire-format stable: hex(iv):hex(tag):hex(ciphertext), exactly
// three colon-separated hex segments. The IV is 16 random bytes per call and
// the GCM tag is 16 bytes.
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
	ivSize  = 16
	tagSize = 16
	keySize = 32
)

// ErrKey indicates a missing or malformed encryption key. This is a
// configuration error: the vault cannot operate until it is fixed.
var ErrKey = errors.New("vault: encryption key must be 32 bytes")

// FormatError indicates a token that does not parse as iv:tag:ciphertext.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("vault: invalid token format: %s", e.Reason)
}

// IntegrityError indicates an authentication tag that does not verify, from
// tampering or a wrong key. Retrying with the same input cannot succeed.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string {
	return "vault: integrity check failed"
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Vault encrypts and decrypts credential strings with a single process-wide
// AES-256-GCM key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a hex-encoded 32-byte key.
func New(hexKey string) (*Vault, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrKey)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrKey)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext into an iv:tag:ciphertext hex token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	// Seal appends ciphertext||tag; split them for the wire format.
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an iv:tag:ciphertext hex token back to the plaintext.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", &FormatError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}
	for i, p := range parts {
		if p == "" {
			return "", &FormatError{Reason: fmt.Sprintf("segment %d is empty", i)}
		}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", &FormatError{Reason: "iv is not valid hex"}
	}
	if len(iv) != ivSize {
		return "", &FormatError{Reason: fmt.Sprintf("iv must be %d bytes, got %d", ivSize, len(iv))}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &FormatError{Reason: "tag is not valid hex"}
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &FormatError{Reason: "ciphertext is not valid hex"}
	}

	sealed := append(ct, tag...)
	plain, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", &IntegrityError{Err: err}
	}
	return string(plain), nil
}
