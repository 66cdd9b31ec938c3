// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package authstore is the durable side of the broker's auth state: users,
// their permissions and personal access tokens, kept in a small SQL
// database so they survive restarts independently of the message data.
package authstore

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

// Store wraps the auth database handle.
type Store struct {
	db *sqlx.DB
}

var registerDriverOnce sync.Once

// Connect opens (creating and migrating if needed) the sqlite database at
// dsn. The driver is wrapped with query hooks so slow or failing auth
// queries show up in the log.
func Connect(dsn string) (*Store, error) {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))
	})

	if err := migrateDB(dsn); err != nil {
		return nil, fmt.Errorf("migrating auth db: %w", err)
	}

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("opening auth db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
