// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch decodes wire frames into command variants and routes
// them through the System facade: decode code -> construct payload ->
// validate -> handle -> response. The handler table is a closed set keyed
// by command code; unknown codes answer InvalidCommand.
package dispatch

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// handlerFunc executes one decoded command for a session.
type handlerFunc func(payload []byte, session *broker.Session, sys *broker.System) wire.Response

// handlers is the dense jump table keyed by command code.
var handlers = map[uint32]handlerFunc{
	wire.CodePing:                          handlePing,
	wire.CodeGetStats:                      handleGetStats,
	wire.CodeGetMe:                         handleGetMe,
	wire.CodeGetClient:                     handleGetClient,
	wire.CodeGetClients:                    handleGetClients,
	wire.CodeGetUser:                       handleGetUser,
	wire.CodeGetUsers:                      handleGetUsers,
	wire.CodeCreateUser:                    handleCreateUser,
	wire.CodeDeleteUser:                    handleDeleteUser,
	wire.CodeUpdateUser:                    handleUpdateUser,
	wire.CodeUpdatePermissions:             handleUpdatePermissions,
	wire.CodeChangePassword:                handleChangePassword,
	wire.CodeLoginUser:                     handleLoginUser,
	wire.CodeLogoutUser:                    handleLogoutUser,
	wire.CodeGetPersonalAccessTokens:       handleGetTokens,
	wire.CodeCreatePersonalAccessToken:     handleCreateToken,
	wire.CodeDeletePersonalAccessToken:     handleDeleteToken,
	wire.CodeLoginWithPersonalAccessToken:  handleLoginWithToken,
	wire.CodePollMessages:                  handlePollMessages,
	wire.CodeSendMessages:                  handleSendMessages,
	wire.CodeFlushUnsavedBuffer:            handleFlushUnsavedBuffer,
	wire.CodeGetConsumerOffset:             handleGetConsumerOffset,
	wire.CodeStoreConsumerOffset:           handleStoreConsumerOffset,
	wire.CodeDeleteConsumerOffset:          handleDeleteConsumerOffset,
	wire.CodeGetStream:                     handleGetStream,
	wire.CodeGetStreams:                    handleGetStreams,
	wire.CodeCreateStream:                  handleCreateStream,
	wire.CodeDeleteStream:                  handleDeleteStream,
	wire.CodeUpdateStream:                  handleUpdateStream,
	wire.CodePurgeStream:                   handlePurgeStream,
	wire.CodeGetTopic:                      handleGetTopic,
	wire.CodeGetTopics:                     handleGetTopics,
	wire.CodeCreateTopic:                   handleCreateTopic,
	wire.CodeDeleteTopic:                   handleDeleteTopic,
	wire.CodeUpdateTopic:                   handleUpdateTopic,
	wire.CodePurgeTopic:                    handlePurgeTopic,
	wire.CodeCreatePartitions:              handleCreatePartitions,
	wire.CodeDeletePartitions:              handleDeletePartitions,
	wire.CodeGetConsumerGroup:              handleGetConsumerGroup,
	wire.CodeGetConsumerGroups:             handleGetConsumerGroups,
	wire.CodeCreateConsumerGroup:           handleCreateConsumerGroup,
	wire.CodeDeleteConsumerGroup:           handleDeleteConsumerGroup,
	wire.CodeJoinConsumerGroup:             handleJoinConsumerGroup,
	wire.CodeLeaveConsumerGroup:            handleLeaveConsumerGroup,
}

// Handle executes one framed request against the System on behalf of a
// session and returns the response frame. Unauthenticated sessions may
// only ping and log in.
func Handle(req wire.RequestHeader, session *broker.Session, sys *broker.System) wire.Response {
	handler, ok := handlers[req.Code]
	if !ok {
		cclog.Debugf("[DISPATCH]> unknown command code %d from client %d", req.Code, session.ClientID)
		return wire.FromError(wire.Wrap(wire.KindInvalidCommand, "unknown command code"))
	}

	if !session.Authenticated() && !allowedUnauthenticated(req.Code) {
		return wire.FromError(wire.Wrap(wire.KindUnauthenticated, "login required"))
	}

	return handler(req.Payload, session, sys)
}

// allowedUnauthenticated lists the commands a connected-but-not-logged-in
// session may issue.
func allowedUnauthenticated(code uint32) bool {
	switch code {
	case wire.CodePing, wire.CodeLoginUser, wire.CodeLoginWithPersonalAccessToken:
		return true
	}
	return false
}

func handlePing(_ []byte, _ *broker.Session, _ *broker.System) wire.Response {
	return wire.OK(nil)
}

func handleLoginUser(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeLoginUser(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	token, err := sys.LoginUser(session, c.Username, c.Password)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u32(session.UserID())
	w.str32(token)
	return wire.OK(w.b)
}

// handleLoginWithToken accepts a personal access token, or — for a
// reconnecting client — the signed session token a previous login
// returned.
func handleLoginWithToken(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeLoginWithToken(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	token, err := sys.LoginWithPersonalAccessToken(session, c.Token)
	if err != nil {
		if sessErr := sys.LoginWithSessionToken(session, c.Token); sessErr != nil {
			return wire.FromError(err)
		}
		token = ""
	}
	var w writer
	w.u32(session.UserID())
	w.str32(token)
	return wire.OK(w.b)
}

func handleLogoutUser(_ []byte, session *broker.Session, sys *broker.System) wire.Response {
	if err := sys.LogoutUser(session); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleGetMe(_ []byte, session *broker.Session, _ *broker.System) wire.Response {
	var w writer
	w.u32(session.ClientID)
	w.u32(session.UserID())
	return wire.OK(w.b)
}

func handleGetStats(_ []byte, session *broker.Session, sys *broker.System) wire.Response {
	stats, err := sys.GetStats(session)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u64(uint64(stats.Uptime / time.Millisecond))
	w.u32(stats.StreamsCount)
	w.u32(stats.TopicsCount)
	w.u32(stats.PartitionsCount)
	w.u32(stats.GroupsCount)
	w.u64(stats.MessagesCount)
	w.u64(stats.SizeBytes)
	w.u32(stats.ClientsCount)
	w.u64(stats.CacheUsage)
	w.u64(stats.CacheBudget)
	return wire.OK(w.b)
}

func handleGetClient(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeClientRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	target, ok := sys.Clients().Get(c.ClientID)
	if !ok {
		return wire.FromError(wire.Wrap(wire.KindInvalidFormat, "client not found"))
	}
	var w writer
	appendClient(&w, target)
	return wire.OK(w.b)
}

func handleGetClients(_ []byte, _ *broker.Session, sys *broker.System) wire.Response {
	clients := sys.Clients().List()
	var w writer
	w.u32(uint32(len(clients)))
	for _, c := range clients {
		appendClient(&w, c)
	}
	return wire.OK(w.b)
}

func appendClient(w *writer, s *broker.Session) {
	w.u32(s.ClientID)
	w.u32(s.UserID())
	w.str8(s.Address)
	w.u32(uint32(len(s.JoinedGroups())))
}
