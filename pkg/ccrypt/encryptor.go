// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ccrypt provides the Encryptor capability consumed by the broker:
// a no-op passthrough and an AES-256-GCM implementation keyed from the
// server configuration. Key provisioning itself is out of scope; callers
// hand over a decoded 32-byte key.
package ccrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor transforms message payloads on their way to and from disk.
// Implementations must be safe for concurrent use.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Noop passes payloads through unchanged. It is the default when no
// encryption key is configured and the stand-in used by tests.
type Noop struct{}

func (Noop) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Noop) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// AESGCM seals each payload with AES-256-GCM under a random nonce. The
// nonce is prepended to the ciphertext so decryption is self-contained.
type AESGCM struct {
	aead cipher.AEAD
}

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// NewAESGCM builds an AES-256-GCM encryptor from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// FromBase64Key decodes a base64 key from the environment/config and
// returns an AES-GCM encryptor, or Noop when the key is empty.
func FromBase64Key(encoded string) (Encryptor, error) {
	if encoded == "" {
		return Noop{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	return NewAESGCM(key)
}

func (e *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	return e.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}
