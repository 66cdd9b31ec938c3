// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"time"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func appendUser(w *writer, u *authstore.User) {
	w.u32(u.ID)
	w.str8(u.Username)
	w.str8(u.Status)
	w.u8(uint8(len(u.Permissions)))
	for _, p := range u.Permissions {
		w.str8(p)
	}
}

func handleGetUser(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUserRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	user, err := sys.GetUser(session, c.UserID)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendUser(&w, user)
	return wire.OK(w.b)
}

func handleGetUsers(_ []byte, session *broker.Session, sys *broker.System) wire.Response {
	users, err := sys.GetUsers(session)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u32(uint32(len(users)))
	for _, u := range users {
		appendUser(&w, u)
	}
	return wire.OK(w.b)
}

func handleCreateUser(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeCreateUser(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	user, err := sys.CreateUser(session, c.Username, c.Password, c.Permissions)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendUser(&w, user)
	return wire.OK(w.b)
}

func handleDeleteUser(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUserRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeleteUser(session, c.UserID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleUpdateUser(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUpdateUser(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.UpdateUser(session, c.UserID, c.Username, c.Status); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleUpdatePermissions(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUpdatePermissions(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.UpdatePermissions(session, c.UserID, c.Permissions); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleChangePassword(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeChangePassword(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	if err := sys.ChangePassword(session, c.UserID, c.CurrentPassword, c.NewPassword); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleGetTokens(_ []byte, session *broker.Session, sys *broker.System) wire.Response {
	tokens, err := sys.GetPersonalAccessTokens(session)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u32(uint32(len(tokens)))
	for _, t := range tokens {
		w.str8(t.Name)
		var expiresAt uint64
		if !t.ExpiresAt.IsZero() {
			expiresAt = uint64(t.ExpiresAt.Unix())
		}
		w.u64(expiresAt)
	}
	return wire.OK(w.b)
}

func handleCreateToken(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeCreateToken(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	raw, err := sys.CreatePersonalAccessToken(session, c.Name, time.Duration(c.ExpirySecs)*time.Second)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.str32(raw)
	return wire.OK(w.b)
}

func handleDeleteToken(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeDeleteToken(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeletePersonalAccessToken(session, c.Name); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}
