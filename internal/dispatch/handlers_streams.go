// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"time"

	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/stream"
	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func appendStream(w *writer, s *stream.Stream) {
	w.u32(s.ID)
	w.str8(s.Name)
	w.u64(uint64(s.CreatedAt.UnixMilli()))
	w.u32(uint32(len(s.Topics())))
}

func appendTopic(w *writer, t *topic.Topic) {
	cfg := t.Config()
	w.u32(t.ID)
	w.str8(t.Name)
	w.u64(uint64(t.CreatedAt.UnixMilli()))
	w.u32(t.PartitionsCount())
	w.u64(uint64(cfg.MessageExpiry / time.Millisecond))
	w.u64(cfg.MaxTopicSize)
	w.u64(t.MessagesCount())
	w.u64(t.SizeBytes())
}

func handleGetStream(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeStreamRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	s, err := sys.Stream(session, c.StreamID)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendStream(&w, s)
	return wire.OK(w.b)
}

func handleGetStreams(_ []byte, _ *broker.Session, sys *broker.System) wire.Response {
	streams := sys.Streams()
	var w writer
	w.u32(uint32(len(streams)))
	for _, s := range streams {
		appendStream(&w, s)
	}
	return wire.OK(w.b)
}

func handleCreateStream(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeCreateStream(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	s, err := sys.CreateStream(session, c.ID, c.Name)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendStream(&w, s)
	return wire.OK(w.b)
}

func handleDeleteStream(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeStreamRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeleteStream(session, c.StreamID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleUpdateStream(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUpdateStream(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	if err := sys.UpdateStream(session, c.StreamID, c.Name); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handlePurgeStream(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeStreamRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.PurgeStream(session, c.StreamID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleGetTopic(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeTopicRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	t, err := sys.Topic(session, c.StreamID, c.TopicID)
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendTopic(&w, t)
	return wire.OK(w.b)
}

func handleGetTopics(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeStreamRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	s, err := sys.Stream(session, c.StreamID)
	if err != nil {
		return wire.FromError(err)
	}
	topics := s.Topics()
	var w writer
	w.u32(uint32(len(topics)))
	for _, t := range topics {
		appendTopic(&w, t)
	}
	return wire.OK(w.b)
}

func handleCreateTopic(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeCreateTopic(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	t, err := sys.CreateTopic(session, c.StreamID, c.TopicID, c.Name, c.config())
	if err != nil {
		return wire.FromError(err)
	}
	var w writer
	appendTopic(&w, t)
	return wire.OK(w.b)
}

func handleDeleteTopic(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeTopicRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeleteTopic(session, c.StreamID, c.TopicID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleUpdateTopic(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeUpdateTopic(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	if err := sys.UpdateTopic(session, c.StreamID, c.TopicID, c.Name,
		time.Duration(c.MessageExpiryMs)*time.Millisecond, c.MaxTopicSize); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handlePurgeTopic(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodeTopicRef(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := sys.PurgeTopic(session, c.StreamID, c.TopicID); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleCreatePartitions(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodePartitionsChange(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	if err := sys.CreatePartitions(session, c.StreamID, c.TopicID, c.Count); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}

func handleDeletePartitions(payload []byte, session *broker.Session, sys *broker.System) wire.Response {
	c, err := decodePartitionsChange(payload)
	if err != nil {
		return wire.FromError(err)
	}
	if err := c.validate(); err != nil {
		return wire.FromError(err)
	}
	if err := sys.DeletePartitions(session, c.StreamID, c.TopicID, c.Count); err != nil {
		return wire.FromError(err)
	}
	return wire.OK(nil)
}
