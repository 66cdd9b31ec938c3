// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func (sys *System) ensureAuthenticated(session *Session) error {
	if session == nil || !session.Authenticated() {
		return wire.Wrap(wire.KindUnauthenticated, "login required")
	}
	return nil
}

func (sys *System) ensurePermission(session *Session, scope string) error {
	if err := sys.ensureAuthenticated(session); err != nil {
		return err
	}
	user, err := sys.store.GetUserByID(session.UserID())
	if err != nil {
		return wire.Wrap(wire.KindUnauthenticated, "user no longer exists")
	}
	if !user.HasPermission(scope) {
		return fmt.Errorf("%w: missing %s", wire.ErrPermissionDenied, scope)
	}
	return nil
}

// LoginUser authenticates the session with username/password and returns
// a signed session token the client can use to revalidate a reconnect.
func (sys *System) LoginUser(session *Session, username, password string) (string, error) {
	user, err := sys.store.VerifyCredentials(username, password)
	if err != nil {
		return "", err
	}
	session.setUser(user.ID)
	sys.metrics.Logins.Inc()
	cclog.Infof("[SYSTEM]> client %d logged in as %q", session.ClientID, username)
	return sys.tokens.issue(user.ID)
}

// LoginWithPersonalAccessToken authenticates using a PAT.
func (sys *System) LoginWithPersonalAccessToken(session *Session, token string) (string, error) {
	user, err := sys.store.ResolveToken(token)
	if err != nil {
		return "", err
	}
	session.setUser(user.ID)
	sys.metrics.Logins.Inc()
	cclog.Infof("[SYSTEM]> client %d logged in via token as %q", session.ClientID, user.Username)
	return sys.tokens.issue(user.ID)
}

// LoginWithSessionToken revalidates a reconnecting client from a signed
// session token, skipping password auth.
func (sys *System) LoginWithSessionToken(session *Session, token string) error {
	userID, err := sys.tokens.verify(token)
	if err != nil {
		return err
	}
	if _, err := sys.store.GetUserByID(userID); err != nil {
		return wire.Wrap(wire.KindUnauthenticated, "user no longer exists")
	}
	session.setUser(userID)
	return nil
}

// LogoutUser returns the session to the connected-but-unauthenticated
// state.
func (sys *System) LogoutUser(session *Session) error {
	if err := sys.ensureAuthenticated(session); err != nil {
		return err
	}
	session.clearUser()
	return nil
}

// Disconnect cascades a closing session out of every consumer group it
// joined and unregisters it.
func (sys *System) Disconnect(session *Session) {
	for _, m := range session.JoinedGroups() {
		t, err := sys.resolveTopic(wire.NumericID(m.StreamID), wire.NumericID(m.TopicID))
		if err != nil {
			continue
		}
		if err := t.LeaveGroup(m.GroupID, session.ClientID); err != nil {
			cclog.Debugf("[SYSTEM]> disconnect leave group %d: %v", m.GroupID, err)
		}
	}
	sys.clients.Remove(session.ClientID)
	session.clearUser()
}

// sessionTokens issues and verifies the JWT session tokens handed out at
// login.
type sessionTokens struct {
	secret []byte
	maxAge time.Duration
}

func newSessionTokens(secret []byte, maxAge time.Duration) *sessionTokens {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &sessionTokens{secret: secret, maxAge: maxAge}
}

func (st *sessionTokens) issue(userID uint32) (string, error) {
	if len(st.secret) == 0 {
		return "", nil
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": fmt.Sprintf("%d", userID),
		"uid": float64(userID),
		"iat": now.Unix(),
		"exp": now.Add(st.maxAge).Unix(),
	})
	return token.SignedString(st.secret)
}

func (st *sessionTokens) verify(raw string) (uint32, error) {
	if len(st.secret) == 0 {
		return 0, wire.Wrap(wire.KindUnauthenticated, "session tokens are disabled")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return st.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return 0, wire.Wrap(wire.KindUnauthenticated, "invalid session token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, wire.Wrap(wire.KindUnauthenticated, "invalid session token claims")
	}
	uid, ok := claims["uid"].(float64)
	if !ok {
		return 0, wire.Wrap(wire.KindUnauthenticated, "invalid session token claims")
	}
	return uint32(uid), nil
}

// User administration, delegated to the auth store behind the manage
// permission.

func (sys *System) CreateUser(session *Session, username, password string, permissions []string) (*authstore.User, error) {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return nil, err
	}
	return sys.store.CreateUser(username, password, permissions)
}

func (sys *System) DeleteUser(session *Session, id uint32) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	return sys.store.DeleteUser(id)
}

func (sys *System) UpdateUser(session *Session, id uint32, username, status string) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	return sys.store.UpdateUser(id, username, status)
}

func (sys *System) UpdatePermissions(session *Session, id uint32, permissions []string) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	return sys.store.UpdatePermissions(id, permissions)
}

// ChangePassword lets a user change their own password; changing another
// user's requires the manage permission.
func (sys *System) ChangePassword(session *Session, id uint32, current, next string) error {
	if err := sys.ensureAuthenticated(session); err != nil {
		return err
	}
	if id != session.UserID() {
		if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
			return err
		}
	}
	return sys.store.ChangePassword(id, current, next)
}

func (sys *System) GetUser(session *Session, id uint32) (*authstore.User, error) {
	if err := sys.ensurePermission(session, authstore.PermReadOnly); err != nil {
		return nil, err
	}
	return sys.store.GetUserByID(id)
}

func (sys *System) GetUsers(session *Session) ([]*authstore.User, error) {
	if err := sys.ensurePermission(session, authstore.PermReadOnly); err != nil {
		return nil, err
	}
	return sys.store.ListUsers()
}

// Personal access tokens: a user manages their own.

func (sys *System) CreatePersonalAccessToken(session *Session, name string, expiry time.Duration) (string, error) {
	if err := sys.ensureAuthenticated(session); err != nil {
		return "", err
	}
	return sys.store.CreateToken(session.UserID(), name, expiry)
}

func (sys *System) DeletePersonalAccessToken(session *Session, name string) error {
	if err := sys.ensureAuthenticated(session); err != nil {
		return err
	}
	return sys.store.DeleteToken(session.UserID(), name)
}

func (sys *System) GetPersonalAccessTokens(session *Session) ([]*authstore.PersonalAccessToken, error) {
	if err := sys.ensureAuthenticated(session); err != nil {
		return nil, err
	}
	return sys.store.ListTokens(session.UserID())
}
