// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitAppliesFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": "127.0.0.1:9999",
		"confirmation": "no_wait",
		"segment-size-limit": 4096,
		"encryption-key": "env:LEDGERSTREAM_TEST_KEY"
	}`), 0o644))
	t.Setenv("LEDGERSTREAM_TEST_KEY", "from-env")

	Init(path)

	require.Equal(t, "127.0.0.1:9999", Keys.Addr)
	require.Equal(t, "no_wait", Keys.Confirmation)
	require.Equal(t, uint64(4096), Keys.SegmentSizeLimit)
	require.Equal(t, "from-env", Keys.EncryptionKey)
	// Untouched fields keep their defaults.
	require.Equal(t, "./var/auth.db", Keys.AuthDB)
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	before := Keys
	Init(filepath.Join(t.TempDir(), "nope.json"))
	require.Equal(t, before, Keys)
}
