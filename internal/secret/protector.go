// Package secret implements the Protector: symmetric encryption for values
// at rest (the SMTP password), keyed by a constant purpose string so
// ciphertexts from different purposes are never interchangeable.
//
// A 32-byte master key lives as a file under the data root; per-purpose keys
// are derived from it with HKDF-SHA256 and used with XChaCha20-Poly1305.
// The only contract consumers rely on is that Unprotect recovers exactly
// what Protect was given.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SmtpPasswordPurpose scopes ciphertexts holding instance SMTP passwords.
const SmtpPasswordPurpose = "ITWebsiteMonitor.SmtpPassword.v1"

// keyFileName is the master key file created under the data root.
const keyFileName = "protector.key"

// ErrProtectorFailure marks a failed decryption: wrong key, wrong purpose,
// or corrupted ciphertext.
var ErrProtectorFailure = errors.New("secret: unprotect failed")

// Protector encrypts and decrypts short secrets. Implementations must
// guarantee Unprotect(Protect(x)) == x.
type Protector interface {
	Protect(plain string) (string, error)
	Unprotect(opaque string) (string, error)
}

// KeyProtector is the file-key-backed Protector implementation.
type KeyProtector struct {
	purpose string
	key     []byte
}

// NewProtector loads the master key from dataRoot (creating it with
// mode 0600 on first use) and derives the purpose-scoped encryption key.
func NewProtector(dataRoot, purpose string) (*KeyProtector, error) {
	master, err := loadOrCreateMasterKey(filepath.Join(dataRoot, keyFileName))
	if err != nil {
		return nil, err
	}
	return newProtectorWithKey(master, purpose)
}

// newProtectorWithKey derives the purpose key from master. Split out for
// tests that supply a fixed key.
func newProtectorWithKey(master []byte, purpose string) (*KeyProtector, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secret: derive key for purpose %q: %w", purpose, err)
	}
	return &KeyProtector{purpose: purpose, key: key}, nil
}

// Protect encrypts plain and returns an opaque base64 token.
func (p *KeyProtector) Protect(plain string) (string, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return "", fmt.Errorf("secret: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), []byte(p.purpose))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unprotect decrypts a token produced by Protect with the same purpose.
func (p *KeyProtector) Unprotect(opaque string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtectorFailure, err)
	}
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return "", fmt.Errorf("secret: init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrProtectorFailure
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(p.purpose))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtectorFailure, err)
	}
	return string(plain), nil
}

// loadOrCreateMasterKey reads the 32-byte master key at path, generating and
// persisting a fresh one when the file does not exist.
func loadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("secret: key file %q has %d bytes, want %d", path, len(data), chacha20poly1305.KeySize)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("secret: read key file %q: %w", path, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secret: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("secret: create key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("secret: write key file %q: %w", path, err)
	}
	return key, nil
}
