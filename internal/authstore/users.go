// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package authstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Permission scopes. A user either holds a scope or doesn't; the broker's
// permissioner checks the scope matching the requested operation.
const (
	PermManage   = "system:manage"   // user/PAT administration, stream/topic CRUD
	PermSend     = "messages:send"   // append messages
	PermPoll     = "messages:poll"   // poll messages, consumer offsets, groups
	PermReadOnly = "system:read"     // get_* introspection
)

// AllPermissions is the scope set granted to the seeded root user.
var AllPermissions = []string{PermManage, PermSend, PermPoll, PermReadOnly}

// User is one account row.
type User struct {
	ID          uint32
	Username    string
	Status      string
	Permissions []string
	CreatedAt   time.Time
}

// HasPermission reports whether the user holds the scope.
func (u *User) HasPermission(scope string) bool {
	for _, p := range u.Permissions {
		if p == scope {
			return true
		}
	}
	return false
}

// CreateUser inserts a new user with a bcrypt-hashed password.
func (s *Store) CreateUser(username, password string, permissions []string) (*User, error) {
	if username == "" || password == "" {
		return nil, wire.Wrap(wire.KindInvalidFormat, "username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	permsJSON, _ := json.Marshal(permissions)

	res, err := sq.Insert("user").
		Columns("username", "password", "permissions", "created_at").
		Values(username, string(hash), string(permsJSON), time.Now().Unix()).
		RunWith(s.db).Exec()
	if err != nil {
		return nil, wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("creating user %q: %v", username, err))
	}
	id, _ := res.LastInsertId()

	cclog.Infof("[AUTHSTORE]> created user %q (id %d, permissions %s)", username, id, permsJSON)
	return &User{ID: uint32(id), Username: username, Status: "active", Permissions: permissions}, nil
}

// GetUser fetches a user by name.
func (s *Store) GetUser(username string) (*User, error) {
	return s.scanUser(sq.Select("id", "username", "status", "permissions", "created_at").
		From("user").Where("user.username = ?", username))
}

// GetUserByID fetches a user by numeric ID.
func (s *Store) GetUserByID(id uint32) (*User, error) {
	return s.scanUser(sq.Select("id", "username", "status", "permissions", "created_at").
		From("user").Where("user.id = ?", id))
}

func (s *Store) scanUser(q sq.SelectBuilder) (*User, error) {
	user := &User{}
	var rawPerms string
	var createdAt int64
	if err := q.RunWith(s.db).QueryRow().
		Scan(&user.ID, &user.Username, &user.Status, &rawPerms, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wire.Wrap(wire.KindUnauthorized, "user not found")
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawPerms), &user.Permissions); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return user, nil
}

// ListUsers returns every user in ID order.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := sq.Select("id", "username", "status", "permissions", "created_at").
		From("user").OrderBy("id").RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user := &User{}
		var rawPerms string
		var createdAt int64
		if err := rows.Scan(&user.ID, &user.Username, &user.Status, &rawPerms, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawPerms), &user.Permissions); err != nil {
			return nil, err
		}
		user.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser renames a user and/or updates its status.
func (s *Store) UpdateUser(id uint32, username, status string) error {
	q := sq.Update("user").Where("user.id = ?", id)
	if username != "" {
		q = q.Set("username", username)
	}
	if status != "" {
		q = q.Set("status", status)
	}
	res, err := q.RunWith(s.db).Exec()
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wire.Wrap(wire.KindUnauthorized, "user not found")
	}
	return nil
}

// UpdatePermissions replaces the user's scope set.
func (s *Store) UpdatePermissions(id uint32, permissions []string) error {
	permsJSON, _ := json.Marshal(permissions)
	res, err := sq.Update("user").Set("permissions", string(permsJSON)).
		Where("user.id = ?", id).RunWith(s.db).Exec()
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wire.Wrap(wire.KindUnauthorized, "user not found")
	}
	return nil
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Store) ChangePassword(id uint32, current, next string) error {
	var hash string
	if err := sq.Select("password").From("user").Where("user.id = ?", id).
		RunWith(s.db).QueryRow().Scan(&hash); err != nil {
		return wire.Wrap(wire.KindUnauthorized, "user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)); err != nil {
		return wire.Wrap(wire.KindUnauthorized, "wrong password")
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = sq.Update("user").Set("password", string(newHash)).
		Where("user.id = ?", id).RunWith(s.db).Exec()
	return err
}

// DeleteUser removes the user; its tokens cascade.
func (s *Store) DeleteUser(id uint32) error {
	res, err := s.db.Exec(`DELETE FROM user WHERE user.id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wire.Wrap(wire.KindUnauthorized, "user not found")
	}
	return nil
}

// VerifyCredentials checks a username/password pair, returning the user on
// success.
func (s *Store) VerifyCredentials(username, password string) (*User, error) {
	var hash string
	if err := sq.Select("password").From("user").Where("user.username = ?", username).
		RunWith(s.db).QueryRow().Scan(&hash); err != nil {
		return nil, wire.Wrap(wire.KindUnauthenticated, "unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, wire.Wrap(wire.KindUnauthenticated, "wrong password")
	}
	return s.GetUser(username)
}

// EnsureRootUser seeds the default administrative account when the user
// table is empty, so a fresh server is reachable.
func (s *Store) EnsureRootUser(username, password string) error {
	var count int
	if err := sq.Select("COUNT(*)").From("user").RunWith(s.db).QueryRow().Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.CreateUser(username, password, AllPermissions)
	return err
}
