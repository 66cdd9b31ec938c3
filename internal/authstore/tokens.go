// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package authstore

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// PersonalAccessToken is the stored metadata of one token; the raw token
// itself is shown to the creator once and only its hash is kept.
type PersonalAccessToken struct {
	UserID    uint32
	Name      string
	ExpiresAt time.Time // zero means no expiry
	CreatedAt time.Time
}

// CreateToken mints a new personal access token for the user and returns
// the raw token string.
func (s *Store) CreateToken(userID uint32, name string, expiry time.Duration) (string, error) {
	if name == "" {
		return "", wire.Wrap(wire.KindInvalidFormat, "token name is required")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	hash := hashToken(token)

	var expiresAt any
	if expiry > 0 {
		expiresAt = time.Now().Add(expiry).Unix()
	}
	_, err := sq.Insert("personal_access_token").
		Columns("user_id", "name", "token_hash", "expires_at", "created_at").
		Values(userID, name, hash, expiresAt, time.Now().Unix()).
		RunWith(s.db).Exec()
	if err != nil {
		return "", wire.Wrap(wire.KindInvalidFormat, "token name already in use")
	}
	return token, nil
}

// ListTokens returns the user's token metadata.
func (s *Store) ListTokens(userID uint32) ([]*PersonalAccessToken, error) {
	rows, err := sq.Select("user_id", "name", "expires_at", "created_at").
		From("personal_access_token").Where("user_id = ?", userID).
		OrderBy("id").RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]*PersonalAccessToken, 0)
	for rows.Next() {
		t := &PersonalAccessToken{}
		var expiresAt sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&t.UserID, &t.Name, &expiresAt, &createdAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t.ExpiresAt = time.Unix(expiresAt.Int64, 0)
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteToken removes one of the user's tokens by name.
func (s *Store) DeleteToken(userID uint32, name string) error {
	res, err := s.db.Exec(`DELETE FROM personal_access_token WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wire.Wrap(wire.KindInvalidFormat, "token not found")
	}
	return nil
}

// ResolveToken authenticates a raw token, returning its owner. Expired
// tokens fail closed.
func (s *Store) ResolveToken(raw string) (*User, error) {
	var userID uint32
	var expiresAt sql.NullInt64
	err := sq.Select("user_id", "expires_at").From("personal_access_token").
		Where("token_hash = ?", hashToken(raw)).
		RunWith(s.db).QueryRow().Scan(&userID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wire.Wrap(wire.KindUnauthenticated, "unknown token")
		}
		return nil, err
	}
	if expiresAt.Valid && time.Now().Unix() > expiresAt.Int64 {
		return nil, wire.Wrap(wire.KindUnauthenticated, "token expired")
	}
	return s.GetUserByID(userID)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
