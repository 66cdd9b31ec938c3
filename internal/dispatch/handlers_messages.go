// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/group"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func handleSendMessages(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeSendMessages(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	pid, err := sys.AppendMessages(session, c.StreamID, c.TopicID, c.Partitioning, c.Messages)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u32(pid)
	return wire.OK(w.b)
}

func handlePollMessages(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodePollMessages(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	polled, err := sys.PollMessages(session, c.Consumer.StreamID, c.Consumer.TopicID,
		c.Consumer.identity(session.ClientID), c.Consumer.PartitionID, c.Strategy, c.Count, c.AutoCommit)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u32(polled.PartitionID)
	w.u64(polled.CurrentOffset)
	w.u32(uint32(len(polled.Messages)))
	for _, m := range polled.Messages {
		w.b = m.AppendBytes(w.b)
	}
	return wire.OK(w.b)
}

func handleFlushUnsavedBuffer(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeFlushUnsavedBuffer(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.FlushUnsavedBuffer(session, c.StreamID, c.TopicID, c.PartitionID, c.Fsync); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleGetConsumerOffset(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeConsumerOffsetGet(payload)
	if err != nil {
		return wire.FromError(err)
	}
	offset, found, err := sys.GetConsumerOffset(session, c.Consumer.StreamID, c.Consumer.TopicID,
		c.Consumer.identity(session.ClientID), c.Consumer.PartitionID)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	w.u64(offset)
	if found {
		w.u8(1)
	} else {
		w.u8(0)
	}
	return wire.OK(w.b)
}

func handleStoreConsumerOffset(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeConsumerOffsetStore(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.StoreConsumerOffset(session, c.Consumer.StreamID, c.Consumer.TopicID,
		c.Consumer.identity(session.ClientID), c.Consumer.PartitionID, c.Offset); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleDeleteConsumerOffset(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeConsumerOffsetGet(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeleteConsumerOffset(session, c.Consumer.StreamID, c.Consumer.TopicID,
		c.Consumer.identity(session.ClientID), c.Consumer.PartitionID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func appendGroup(w *writer, g *group.ConsumerGroup, partitionsCount uint32) {
	w.u32(g.ID)
	w.str8(g.Name)
	w.u32(partitionsCount)
	w.u32(uint32(g.MembersCount()))
}

func handleGetConsumerGroup(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeGroupRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	t, err := sys.Topic(session, c.StreamID, c.TopicID)
	if err != nil {
		return wire.FromError(err)
	}
	g, err := t.Group(c.GroupID)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendGroup(&w, g, t.PartitionsCount())
	return wire.OK(w.b)
}

func handleGetConsumerGroups(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeTopicRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	t, err := sys.Topic(session, c.StreamID, c.TopicID)
	if err != nil {
		return wire.FromError(err)
	}
	groups := t.Groups()
	var w writer
	w.u32(uint32(len(groups)))
	for _, g := range groups {
		appendGroup(&w, g, t.PartitionsCount())
	}
	return wire.OK(w.b)
}

func handleCreateConsumerGroup(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeCreateGroup(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	t, err := sys.Topic(session, c.StreamID, c.TopicID)
	if err != nil {
		return wire.FromError(err)
	}
	g, err := t.CreateGroup(c.GroupID, c.Name)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendGroup(&w, g, t.PartitionsCount())
	return wire.OK(w.b)
}

func handleDeleteConsumerGroup(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeGroupRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	t, err := sys.Topic(session, c.StreamID, c.TopicID)
	if err != nil {
		return wire.FromError(err)
	}
	if err := t.DeleteGroup(c.GroupID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleJoinConsumerGroup(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeGroupRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.JoinConsumerGroup(session, c.StreamID, c.TopicID, c.GroupID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleLeaveConsumerGroup(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeGroupRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.LeaveConsumerGroup(session, c.StreamID, c.TopicID, c.GroupID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}
