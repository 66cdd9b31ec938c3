// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
)

const envString = `
# Base64 encoded 32-byte AES key enabling payload encryption
# (DO NOT USE THIS ONE IN PRODUCTION!)
# LEDGERSTREAM_ENCRYPTION_KEY="MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="
`

const configString = `
{
    "addr": "127.0.0.1:8090",
    "metrics-addr": "127.0.0.1:8091",
    "data-path": "./var/data",
    "auth-db": "./var/auth.db",
    "segment-size-limit": 1073741824,
    "cache-budget": 4294967296,
    "confirmation": "wait",
    "fsync": false,
    "encryption-key": "env:LEDGERSTREAM_ENCRYPTION_KEY",
    "session-secret": "change-this-session-secret",
    "root-username": "root",
    "root-password": "changeme"
}
`

func initEnv() {
	if _, err := os.Stat("var"); err == nil {
		cclog.Abort("Directory ./var already exists. Cautiously exiting application initialization.")
	}

	if err := os.WriteFile("config.json", []byte(configString), 0o666); err != nil {
		cclog.Abortf("Could not write default ./config.json with permissions '0o666'. Application initialization failed, exited.\nError: %s\n", err.Error())
	}

	if err := os.WriteFile(".env", []byte(envString), 0o666); err != nil {
		cclog.Abortf("Could not write default ./.env file with permissions '0o666'. Application initialization failed, exited.\nError: %s\n", err.Error())
	}

	if err := os.Mkdir("var", 0o777); err != nil {
		cclog.Abortf("Could not create default ./var folder with permissions '0o777'. Application initialization failed, exited.\nError: %s\n", err.Error())
	}

	store, err := authstore.Connect("./var/auth.db")
	if err != nil {
		cclog.Abortf("Could not initialize default sqlite3 auth database as './var/auth.db'. Application initialization failed, exited.\nError: %s\n", err.Error())
	}
	store.Close()
}
