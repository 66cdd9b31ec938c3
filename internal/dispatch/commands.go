// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"time"

	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Command payload variants. Each decodes from its wire payload and
// validates itself before the handler runs.

type loginUser struct {
	Username string
	Password string
}

func decodeLoginUser(b []byte) (loginUser, error) {
	r := newReader(b)
	c := loginUser{Username: r.str8(), Password: r.str8()}
	return c, r.err
}

func (c loginUser) validate() error {
	if c.Username == "" || c.Password == "" {
		return wire.Wrap(wire.KindInvalidCommand, "username and password are required")
	}
	return nil
}

type loginWithToken struct {
	Token string
}

func decodeLoginWithToken(b []byte) (loginWithToken, error) {
	r := newReader(b)
	c := loginWithToken{Token: r.str32()}
	return c, r.err
}

func (c loginWithToken) validate() error {
	if c.Token == "" {
		return wire.Wrap(wire.KindInvalidCommand, "token is required")
	}
	return nil
}

type createStream struct {
	ID   uint32
	Name string
}

func decodeCreateStream(b []byte) (createStream, error) {
	r := newReader(b)
	c := createStream{ID: r.u32(), Name: r.str8()}
	return c, r.err
}

func (c createStream) validate() error {
	if c.ID == 0 || c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "stream id and name are required")
	}
	return nil
}

type streamRef struct {
	StreamID wire.Identifier
}

func decodeStreamRef(b []byte) (streamRef, error) {
	r := newReader(b)
	c := streamRef{StreamID: r.identifier()}
	return c, r.err
}

type updateStream struct {
	StreamID wire.Identifier
	Name     string
}

func decodeUpdateStream(b []byte) (updateStream, error) {
	r := newReader(b)
	c := updateStream{StreamID: r.identifier(), Name: r.str8()}
	return c, r.err
}

func (c updateStream) validate() error {
	if c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "stream name is required")
	}
	return nil
}

type topicRef struct {
	StreamID wire.Identifier
	TopicID  wire.Identifier
}

func decodeTopicRef(b []byte) (topicRef, error) {
	r := newReader(b)
	c := topicRef{StreamID: r.identifier(), TopicID: r.identifier()}
	return c, r.err
}

type createTopic struct {
	StreamID        wire.Identifier
	TopicID         uint32
	PartitionsCount uint32
	MessageExpiryMs uint64
	MaxTopicSize    uint64
	Compression     uint8
	Replication     uint8
	Name            string
	KeyExpression   string
}

func decodeCreateTopic(b []byte) (createTopic, error) {
	r := newReader(b)
	c := createTopic{
		StreamID:        r.identifier(),
		TopicID:         r.u32(),
		PartitionsCount: r.u32(),
		MessageExpiryMs: r.u64(),
		MaxTopicSize:    r.u64(),
		Compression:     r.u8(),
		Replication:     r.u8(),
		Name:            r.str8(),
		KeyExpression:   r.str16(),
	}
	return c, r.err
}

func (c createTopic) validate() error {
	if c.TopicID == 0 || c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "topic id and name are required")
	}
	if c.PartitionsCount < 1 {
		return wire.Wrap(wire.KindInvalidCommand, "at least one partition is required")
	}
	return nil
}

func (c createTopic) config() topic.Config {
	return topic.Config{
		PartitionsCount:   c.PartitionsCount,
		MessageExpiry:     time.Duration(c.MessageExpiryMs) * time.Millisecond,
		MaxTopicSize:      c.MaxTopicSize,
		CompressionAlgo:   c.Compression,
		ReplicationFactor: c.Replication,
		KeyExpression:     c.KeyExpression,
	}
}

type updateTopic struct {
	StreamID        wire.Identifier
	TopicID         wire.Identifier
	MessageExpiryMs uint64
	MaxTopicSize    uint64
	Name            string
}

func decodeUpdateTopic(b []byte) (updateTopic, error) {
	r := newReader(b)
	c := updateTopic{
		StreamID:        r.identifier(),
		TopicID:         r.identifier(),
		MessageExpiryMs: r.u64(),
		MaxTopicSize:    r.u64(),
		Name:            r.str8(),
	}
	return c, r.err
}

func (c updateTopic) validate() error {
	if c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "topic name is required")
	}
	return nil
}

type partitionsChange struct {
	StreamID wire.Identifier
	TopicID  wire.Identifier
	Count    uint32
}

func decodePartitionsChange(b []byte) (partitionsChange, error) {
	r := newReader(b)
	c := partitionsChange{StreamID: r.identifier(), TopicID: r.identifier(), Count: r.u32()}
	return c, r.err
}

func (c partitionsChange) validate() error {
	if c.Count == 0 {
		return wire.Wrap(wire.KindInvalidCommand, "partition count must be positive")
	}
	return nil
}

// consumerRef is the shared (consumer kind, group, stream, topic,
// partition) prefix of the poll/offset command family.
type consumerRef struct {
	GroupID     uint32 // zero for a direct consumer
	StreamID    wire.Identifier
	TopicID     wire.Identifier
	PartitionID uint32
}

func (r *reader) consumerRef() consumerRef {
	kind := r.u8()
	c := consumerRef{GroupID: r.u32(), StreamID: r.identifier(), TopicID: r.identifier(), PartitionID: r.u32()}
	if kind == 0 {
		c.GroupID = 0
	}
	return c
}

func (c consumerRef) identity(clientID uint32) topic.PollIdentity {
	return topic.PollIdentity{GroupID: c.GroupID, ClientID: clientID}
}

type pollMessages struct {
	Consumer   consumerRef
	Strategy   wire.PollingStrategy
	Count      uint32
	AutoCommit bool
}

func decodePollMessages(b []byte) (pollMessages, error) {
	r := newReader(b)
	c := pollMessages{Consumer: r.consumerRef()}
	c.Strategy = wire.PollingStrategy{Kind: wire.PollingStrategyKind(r.u8()), Value: r.u64()}
	c.Count = r.u32()
	c.AutoCommit = r.u8() != 0
	return c, r.err
}

func (c pollMessages) validate() error {
	if c.Count == 0 {
		return wire.Wrap(wire.KindInvalidMessagesCount, "poll count must be positive")
	}
	return nil
}

type sendMessages struct {
	StreamID     wire.Identifier
	TopicID      wire.Identifier
	Partitioning wire.Partitioning
	Messages     []wire.Message
}

func decodeSendMessages(b []byte) (sendMessages, error) {
	r := newReader(b)
	c := sendMessages{StreamID: r.identifier(), TopicID: r.identifier()}
	c.Partitioning = wire.Partitioning{
		Kind:        wire.PartitioningKind(r.u8()),
		PartitionID: r.u32(),
	}
	if keyLen := int(r.u8()); keyLen > 0 {
		c.Partitioning.Key = r.bytes(keyLen)
	}
	count := r.u32()
	if r.err != nil {
		return c, r.err
	}
	c.Messages = make([]wire.Message, 0, count)
	for i := uint32(0); i < count; i++ {
		var m wire.Message
		copy(m.ID[:], r.bytes(16))
		payloadLen := int(r.u32())
		m.Payload = r.bytes(payloadLen)
		if r.err != nil {
			return c, r.err
		}
		c.Messages = append(c.Messages, m)
	}
	return c, r.err
}

func (c sendMessages) validate() error {
	if len(c.Messages) == 0 {
		return wire.Wrap(wire.KindInvalidMessagesCount, "no messages")
	}
	return nil
}

type flushUnsavedBuffer struct {
	StreamID    wire.Identifier
	TopicID     wire.Identifier
	PartitionID uint32
	Fsync       bool
}

func decodeFlushUnsavedBuffer(b []byte) (flushUnsavedBuffer, error) {
	r := newReader(b)
	c := flushUnsavedBuffer{
		StreamID:    r.identifier(),
		TopicID:     r.identifier(),
		PartitionID: r.u32(),
		Fsync:       r.u8() != 0,
	}
	return c, r.err
}

type consumerOffsetGet struct {
	Consumer consumerRef
}

func decodeConsumerOffsetGet(b []byte) (consumerOffsetGet, error) {
	r := newReader(b)
	c := consumerOffsetGet{Consumer: r.consumerRef()}
	return c, r.err
}

type consumerOffsetStore struct {
	Consumer consumerRef
	Offset   uint64
}

func decodeConsumerOffsetStore(b []byte) (consumerOffsetStore, error) {
	r := newReader(b)
	c := consumerOffsetStore{Consumer: r.consumerRef(), Offset: r.u64()}
	return c, r.err
}

type groupRef struct {
	StreamID wire.Identifier
	TopicID  wire.Identifier
	GroupID  uint32
}

func decodeGroupRef(b []byte) (groupRef, error) {
	r := newReader(b)
	c := groupRef{StreamID: r.identifier(), TopicID: r.identifier(), GroupID: r.u32()}
	return c, r.err
}

type createGroup struct {
	StreamID wire.Identifier
	TopicID  wire.Identifier
	GroupID  uint32
	Name     string
}

func decodeCreateGroup(b []byte) (createGroup, error) {
	r := newReader(b)
	c := createGroup{StreamID: r.identifier(), TopicID: r.identifier(), GroupID: r.u32(), Name: r.str8()}
	return c, r.err
}

func (c createGroup) validate() error {
	if c.GroupID == 0 || c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "group id and name are required")
	}
	return nil
}

type userRef struct {
	UserID uint32
}

func decodeUserRef(b []byte) (userRef, error) {
	r := newReader(b)
	c := userRef{UserID: r.u32()}
	return c, r.err
}

type createUser struct {
	Username    string
	Password    string
	Permissions []string
}

func decodeCreateUser(b []byte) (createUser, error) {
	r := newReader(b)
	c := createUser{Username: r.str8(), Password: r.str8()}
	count := int(r.u8())
	for i := 0; i < count; i++ {
		c.Permissions = append(c.Permissions, r.str8())
	}
	return c, r.err
}

func (c createUser) validate() error {
	if c.Username == "" || c.Password == "" {
		return wire.Wrap(wire.KindInvalidCommand, "username and password are required")
	}
	return nil
}

type updateUser struct {
	UserID   uint32
	Username string
	Status   string
}

func decodeUpdateUser(b []byte) (updateUser, error) {
	r := newReader(b)
	c := updateUser{UserID: r.u32(), Username: r.str8(), Status: r.str8()}
	return c, r.err
}

type updatePermissions struct {
	UserID      uint32
	Permissions []string
}

func decodeUpdatePermissions(b []byte) (updatePermissions, error) {
	r := newReader(b)
	c := updatePermissions{UserID: r.u32()}
	count := int(r.u8())
	for i := 0; i < count; i++ {
		c.Permissions = append(c.Permissions, r.str8())
	}
	return c, r.err
}

type changePassword struct {
	UserID          uint32
	CurrentPassword string
	NewPassword     string
}

func decodeChangePassword(b []byte) (changePassword, error) {
	r := newReader(b)
	c := changePassword{UserID: r.u32(), CurrentPassword: r.str8(), NewPassword: r.str8()}
	return c, r.err
}

func (c changePassword) validate() error {
	if c.NewPassword == "" {
		return wire.Wrap(wire.KindInvalidCommand, "new password is required")
	}
	return nil
}

type createToken struct {
	Name       string
	ExpirySecs uint64
}

func decodeCreateToken(b []byte) (createToken, error) {
	r := newReader(b)
	c := createToken{Name: r.str8(), ExpirySecs: r.u64()}
	return c, r.err
}

func (c createToken) validate() error {
	if c.Name == "" {
		return wire.Wrap(wire.KindInvalidCommand, "token name is required")
	}
	return nil
}

type deleteToken struct {
	Name string
}

func decodeDeleteToken(b []byte) (deleteToken, error) {
	r := newReader(b)
	c := deleteToken{Name: r.str8()}
	return c, r.err
}

type clientRef struct {
	ClientID uint32
}

func decodeClientRef(b []byte) (clientRef, error) {
	r := newReader(b)
	c := clientRef{ClientID: r.u32()}
	return c, r.err
}
