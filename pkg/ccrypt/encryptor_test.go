// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ccrypt

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	enc, err := NewAESGCM(key)
	require.NoError(t, err)

	plain := []byte("message 0")
	sealed, err := enc.Encrypt(plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, sealed)

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plain, opened)
}

func TestAESGCMRejectsBadKeyLength(t *testing.T) {
	_, err := NewAESGCM([]byte("short"))
	require.Error(t, err)
}

func TestAESGCMDetectsTampering(t *testing.T) {
	enc, err := NewAESGCM(bytes.Repeat([]byte{7}, KeySize))
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = enc.Decrypt(sealed)
	require.Error(t, err)
}

func TestFromBase64Key(t *testing.T) {
	t.Run("empty key is noop", func(t *testing.T) {
		enc, err := FromBase64Key("")
		require.NoError(t, err)
		_, ok := enc.(Noop)
		require.True(t, ok)
	})

	t.Run("valid key", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, KeySize))
		enc, err := FromBase64Key(encoded)
		require.NoError(t, err)
		_, ok := enc.(*AESGCM)
		require.True(t, ok)
	})

	t.Run("garbage key", func(t *testing.T) {
		_, err := FromBase64Key("not-base64!!!")
		require.Error(t, err)
	})
}
