// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ledgerstream config file schema",
  "type": "object",
  "properties": {
    "addr": {
      "description": "Address the binary wire protocol listens on.",
      "type": "string"
    },
    "metrics-addr": {
      "description": "Address of the metrics/health HTTP surface. Empty disables it.",
      "type": "string"
    },
    "data-path": {
      "description": "Root directory for streams, segments and runtime state.",
      "type": "string"
    },
    "auth-db": {
      "description": "Path of the sqlite database holding users, permissions and tokens.",
      "type": "string"
    },
    "user": {
      "description": "Drop root permissions to this user once the port is taken.",
      "type": "string"
    },
    "group": {
      "description": "Drop root permissions to this group once the port is taken.",
      "type": "string"
    },
    "segment-size-limit": {
      "description": "Segment rotation threshold in bytes.",
      "type": "integer",
      "minimum": 1
    },
    "cache-budget": {
      "description": "Process-wide partition cache budget in bytes.",
      "type": "integer",
      "minimum": 0
    },
    "confirmation": {
      "description": "Default append confirmation mode.",
      "type": "string",
      "enum": ["wait", "no_wait"]
    },
    "fsync": {
      "description": "Fsync after every write.",
      "type": "boolean"
    },
    "max-file-retries": {
      "description": "Write attempts per batch in the persister task.",
      "type": "integer",
      "minimum": 0
    },
    "retry-delay-ms": {
      "description": "Delay between persister retries in milliseconds.",
      "type": "integer",
      "minimum": 0
    },
    "maintenance-interval-sec": {
      "description": "Interval of the expiry/size maintenance sweep in seconds.",
      "type": "integer",
      "minimum": 1
    },
    "encryption-key": {
      "description": "Base64-encoded 32-byte AES key, or env:NAME to read it from the environment. Empty disables encryption.",
      "type": "string"
    },
    "session-secret": {
      "description": "Secret signing login session tokens. Empty disables them.",
      "type": "string"
    },
    "session-max-age": {
      "description": "Session token lifetime, e.g. 24h.",
      "type": "string"
    },
    "root-username": {
      "description": "Seed admin username for an empty user table.",
      "type": "string"
    },
    "root-password": {
      "description": "Seed admin password for an empty user table.",
      "type": "string"
    },
    "rate-limit": {
      "description": "Per-connection command rate limit in commands/second. Zero disables limiting.",
      "type": "number",
      "minimum": 0
    },
    "rate-burst": {
      "description": "Per-connection rate limiter burst.",
      "type": "integer",
      "minimum": 0
    }
  },
  "additionalProperties": false
}`
