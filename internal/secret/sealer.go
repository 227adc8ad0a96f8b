// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secret seals provider API keys at rest.
//
// Values are AES-256-GCM encrypted and stored as ENC:base64(nonce|ciphertext|tag).
// The key comes from a per-install key file, or from PBKDF2-SHA-256 over a
// passphrase when RIGRUN_CHAT_PASSPHRASE is set.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/util"
	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a sealed value.
const EncryptedPrefix = "ENC:"

const (
	keySize          = 32
	saltSize         = 32
	pbkdf2Iterations = 600000

	keyFileName  = "secret.key"
	saltFileName = "secret.salt"
)

var (
	// ErrInvalidCiphertext is returned for sealed values that cannot be decoded.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed is returned when authentication fails, usually a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: wrong key or corrupted value")
)

// =============================================================================
// SEALER
// =============================================================================

// Sealer encrypts and decrypts short secrets.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer loads or creates the key material under dir. A non-empty
// passphrase switches to password-derived keys.
func NewSealer(dir, passphrase string) (*Sealer, error) {
	var key []byte
	var err error
	if passphrase != "" {
		var salt []byte
		salt, err = loadOrCreate(filepath.Join(dir, saltFileName), saltSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load salt: %w", err)
		}
		key = DeriveKey(passphrase, salt)
	} else {
		key, err = loadOrCreate(filepath.Join(dir, keyFileName), keySize)
		if err != nil {
			return nil, fmt.Errorf("failed to load key: %w", err)
		}
	}
	defer zeroBytes(key)
	return NewSealerWithKey(key)
}

// NewSealerWithKey builds a sealer from a raw 32-byte key.
func NewSealerWithKey(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// DeriveKey derives a key from a passphrase and salt using PBKDF2-SHA-256.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// Seal encrypts plaintext. Empty and already sealed values pass through.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Unsealed values are returned unchanged so
// plaintext rows written before sealing keep working.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the ENC: prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// =============================================================================
// KEY FILES
// =============================================================================

func loadOrCreate(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != size {
			return nil, fmt.Errorf("%s: expected %d bytes, got %d", path, size, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	// SECURITY: key material is owner read/write only
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return nil, err
	}
	return data, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
