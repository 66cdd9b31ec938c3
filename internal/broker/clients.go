// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"sort"
	"sync"
	"time"
)

// Session is one connected client's state: created on transport accept,
// destroyed on disconnect.
type Session struct {
	ClientID    uint32
	Address     string
	ConnectedAt time.Time

	mu            sync.Mutex
	userID        uint32
	authenticated bool
	joinedGroups  []GroupMembership
}

// GroupMembership records a consumer group the session joined, so the
// disconnect path can cascade the leave.
type GroupMembership struct {
	StreamID uint32
	TopicID  uint32
	GroupID  uint32
}

// Authenticated reports whether the session has logged in.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// UserID returns the logged-in user, zero if unauthenticated.
func (s *Session) UserID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setUser(userID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.authenticated = true
}

func (s *Session) clearUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = 0
	s.authenticated = false
}

// RememberGroup records a joined group, once.
func (s *Session) RememberGroup(m GroupMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.joinedGroups {
		if g == m {
			return
		}
	}
	s.joinedGroups = append(s.joinedGroups, m)
}

// ForgetGroup drops a recorded membership after an explicit leave.
func (s *Session) ForgetGroup(m GroupMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.joinedGroups {
		if g == m {
			s.joinedGroups = append(s.joinedGroups[:i], s.joinedGroups[i+1:]...)
			return
		}
	}
}

// JoinedGroups snapshots the session's memberships.
func (s *Session) JoinedGroups() []GroupMembership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GroupMembership(nil), s.joinedGroups...)
}

// ClientManager is the registry of connected sessions.
type ClientManager struct {
	mu       sync.RWMutex
	nextID   uint32
	sessions map[uint32]*Session
}

func NewClientManager() *ClientManager {
	return &ClientManager{sessions: make(map[uint32]*Session)}
}

// Accept registers a new session for a transport connection.
func (cm *ClientManager) Accept(address string) *Session {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.nextID++
	s := &Session{
		ClientID:    cm.nextID,
		Address:     address,
		ConnectedAt: time.Now(),
	}
	cm.sessions[s.ClientID] = s
	return s
}

// Remove unregisters a disconnected session.
func (cm *ClientManager) Remove(clientID uint32) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.sessions, clientID)
}

// Get returns a session by client ID.
func (cm *ClientManager) Get(clientID uint32) (*Session, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	s, ok := cm.sessions[clientID]
	return s, ok
}

// List returns all sessions in client-ID order.
func (cm *ClientManager) List() []*Session {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Session, 0, len(cm.sessions))
	for _, s := range cm.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Count returns the number of connected sessions.
func (cm *ClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.sessions)
}
