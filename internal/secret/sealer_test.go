// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package secret

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSealer(dir, "")
	require.NoError(t, err)

	sealed, err := s.Seal("sk-test-123")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "sk-test-123")

	again, err := s.Seal(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "sealing twice must be a no-op")

	// A second sealer over the same directory reuses the key file.
	s2, err := NewSealer(dir, "")
	require.NoError(t, err)
	plain, err := s2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", plain)
}

func TestSealer_PassThrough(t *testing.T) {
	s, err := NewSealerWithKey(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	empty, err := s.Seal("")
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	plain, err := s.Open("legacy-plaintext-key")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext-key", plain)
}

func TestSealer_WrongKey(t *testing.T) {
	a, err := NewSealerWithKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	b, err := NewSealerWithKey(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))

	_, err = b.Open(EncryptedPrefix + "!!!")
	assert.True(t, errors.Is(err, ErrInvalidCiphertext))
}

func TestSealer_Passphrase(t *testing.T) {
	dir := t.TempDir()
	a, err := NewSealer(dir, "correct horse")
	require.NoError(t, err)
	sealed, err := a.Seal("k")
	require.NoError(t, err)

	b, err := NewSealer(dir, "correct horse")
	require.NoError(t, err)
	plain, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "k", plain)
}

func TestNewSealerWithKey_BadLength(t *testing.T) {
	_, err := NewSealerWithKey([]byte("short"))
	assert.Error(t, err)
}
