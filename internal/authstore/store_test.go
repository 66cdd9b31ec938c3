// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package authstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Connect(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := testStore(t)

	user, err := s.CreateUser("alice", "secret", []string{PermSend, PermPoll})
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	got, err := s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.True(t, got.HasPermission(PermSend))
	require.False(t, got.HasPermission(PermManage))

	_, err = s.CreateUser("alice", "other", nil)
	require.Error(t, err)

	require.NoError(t, s.UpdatePermissions(user.ID, AllPermissions))
	got, err = s.GetUserByID(user.ID)
	require.NoError(t, err)
	require.True(t, got.HasPermission(PermManage))

	require.NoError(t, s.DeleteUser(user.ID))
	_, err = s.GetUser("alice")
	require.ErrorIs(t, err, wire.ErrUnauthorized)
}

func TestVerifyCredentials(t *testing.T) {
	s := testStore(t)
	_, err := s.CreateUser("bob", "hunter2", nil)
	require.NoError(t, err)

	user, err := s.VerifyCredentials("bob", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "bob", user.Username)

	_, err = s.VerifyCredentials("bob", "wrong")
	require.ErrorIs(t, err, wire.ErrUnauthenticated)
	_, err = s.VerifyCredentials("nobody", "hunter2")
	require.ErrorIs(t, err, wire.ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	s := testStore(t)
	user, err := s.CreateUser("carol", "old", nil)
	require.NoError(t, err)

	require.ErrorIs(t, s.ChangePassword(user.ID, "bogus", "new"), wire.ErrUnauthorized)
	require.NoError(t, s.ChangePassword(user.ID, "old", "new"))

	_, err = s.VerifyCredentials("carol", "new")
	require.NoError(t, err)
}

func TestPersonalAccessTokens(t *testing.T) {
	s := testStore(t)
	user, err := s.CreateUser("dave", "pw", []string{PermPoll})
	require.NoError(t, err)

	raw, err := s.CreateToken(user.ID, "ci", 0)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	resolved, err := s.ResolveToken(raw)
	require.NoError(t, err)
	require.Equal(t, user.ID, resolved.ID)

	_, err = s.ResolveToken("deadbeef")
	require.ErrorIs(t, err, wire.ErrUnauthenticated)

	tokens, err := s.ListTokens(user.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "ci", tokens[0].Name)

	require.NoError(t, s.DeleteToken(user.ID, "ci"))
	_, err = s.ResolveToken(raw)
	require.ErrorIs(t, err, wire.ErrUnauthenticated)
}

func TestExpiredTokenFailsClosed(t *testing.T) {
	s := testStore(t)
	user, err := s.CreateUser("eve", "pw", nil)
	require.NoError(t, err)

	raw, err := s.CreateToken(user.ID, "short", time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // expiry granularity is one second

	_, err = s.ResolveToken(raw)
	require.ErrorIs(t, err, wire.ErrUnauthenticated)
}

func TestEnsureRootUser(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.EnsureRootUser("root", "changeme"))
	require.NoError(t, s.EnsureRootUser("root", "changeme")) // idempotent

	users, err := s.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.True(t, users[0].HasPermission(PermManage))
}
