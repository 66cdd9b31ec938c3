// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the broker's JSON configuration, validates it
// against the embedded schema and applies environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ProgramConfig is the broker configuration file format. See the embedded
// schema for field documentation and defaults.
type ProgramConfig struct {
	// Address the binary wire protocol listens on.
	Addr string `json:"addr"`

	// Address of the metrics/health HTTP surface; empty disables it.
	MetricsAddr string `json:"metrics-addr"`

	// Root directory for streams, segments and runtime state.
	DataPath string `json:"data-path"`

	// Path of the sqlite database holding users, permissions and tokens.
	AuthDB string `json:"auth-db"`

	// Drop root permissions once the port is taken.
	User  string `json:"user"`
	Group string `json:"group"`

	// Segment rotation threshold in bytes.
	SegmentSizeLimit uint64 `json:"segment-size-limit"`

	// Process-wide partition cache budget in bytes.
	CacheBudget uint64 `json:"cache-budget"`

	// Default confirmation mode: "wait" or "no_wait".
	Confirmation string `json:"confirmation"`

	// Fsync after every write (wait mode) / every persisted batch (no_wait).
	Fsync bool `json:"fsync"`

	// Persister retry policy for no_wait writes.
	MaxFileRetries int `json:"max-file-retries"`
	RetryDelayMs   int `json:"retry-delay-ms"`

	// Interval of the expiry/size maintenance sweep in seconds.
	MaintenanceIntervalSec int `json:"maintenance-interval-sec"`

	// Base64-encoded 32-byte AES key; empty disables payload encryption.
	// The value "env:NAME" reads the key from the named environment
	// variable instead, so the key never sits in the config file.
	EncryptionKey string `json:"encryption-key"`

	// Secret signing the session tokens returned at login; empty disables
	// session-token revalidation.
	SessionSecret string `json:"session-secret"`

	// Session token lifetime, e.g. "24h". Zero or empty means 24h.
	SessionMaxAge string `json:"session-max-age"`

	// Seed credentials for the administrative account created when the
	// user table is empty.
	RootUsername string `json:"root-username"`
	RootPassword string `json:"root-password"`

	// Per-connection command rate limit (commands/second) and burst.
	// Zero disables limiting.
	RateLimit float64 `json:"rate-limit"`
	RateBurst int     `json:"rate-burst"`
}

var Keys ProgramConfig = ProgramConfig{
	Addr:                   "127.0.0.1:8090",
	MetricsAddr:            "127.0.0.1:8091",
	DataPath:               "./var/data",
	AuthDB:                 "./var/auth.db",
	SegmentSizeLimit:       1 << 30,
	CacheBudget:            4 << 30,
	Confirmation:           "wait",
	Fsync:                  false,
	MaxFileRetries:         3,
	RetryDelayMs:           50,
	MaintenanceIntervalSec: 5,
	SessionMaxAge:          "24h",
	RootUsername:           "root",
	RootPassword:           "changeme",
	RateBurst:              64,
}

// Init loads the config file at flagConfigFile into Keys. A missing file
// keeps the defaults; an invalid one aborts.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Abortf("Config Init: Could not read config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
		}
		return
	}

	Validate(configSchema, raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Abortf("Config Init: Could not decode config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
	}

	// Allow reading the encryption key from the environment instead of
	// the config file.
	if strings.HasPrefix(Keys.EncryptionKey, "env:") {
		envvar := strings.TrimPrefix(Keys.EncryptionKey, "env:")
		Keys.EncryptionKey = os.Getenv(envvar)
	}
}
