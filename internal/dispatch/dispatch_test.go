// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func testSystem(t *testing.T) (*broker.System, *broker.Session) {
	t.Helper()
	dir := t.TempDir()
	store, err := authstore.Connect(filepath.Join(dir, "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureRootUser("root", "changeme"))

	sys := broker.New(broker.Options{
		DataPath:         filepath.Join(dir, "data"),
		SegmentSizeLimit: 64 << 20,
		CacheBudgetBytes: 64 << 20,
		Confirmation:     wire.ConfirmationWait,
		MaxFileRetries:   3,
		RetryDelay:       time.Millisecond,
		MaintenanceEvery: time.Hour,
		SessionSecret:    []byte("test-secret"),
		Store:            store,
	})
	require.NoError(t, sys.Init())
	t.Cleanup(func() { sys.Shutdown() })

	return sys, sys.Clients().Accept("127.0.0.1:50000")
}

func login(t *testing.T, sys *broker.System, session *broker.Session) {
	t.Helper()
	var w writer
	w.str8("root")
	w.str8("changeme")
	resp := Handle(wire.RequestHeader{Code: wire.CodeLoginUser, Payload: w.b}, session, sys)
	require.Equal(t, wire.KindOK, resp.Status)
}

func mustOK(t *testing.T, sys *broker.System, session *broker.Session, code uint32, payload []byte) wire.Response {
	t.Helper()
	resp := Handle(wire.RequestHeader{Code: code, Payload: payload}, session, sys)
	require.Equal(t, wire.KindOK, resp.Status, "command %s failed with %s", wire.NameForCode(code), resp.Status)
	return resp
}

func encodeSendMessages(streamID, topicID wire.Identifier, partitioning wire.Partitioning, payloads [][]byte) []byte {
	var w writer
	w.b = streamID.AppendBytes(w.b)
	w.b = topicID.AppendBytes(w.b)
	w.u8(uint8(partitioning.Kind))
	w.u32(partitioning.PartitionID)
	w.u8(uint8(len(partitioning.Key)))
	w.b = append(w.b, partitioning.Key...)
	w.u32(uint32(len(payloads)))
	for _, p := range payloads {
		var id [16]byte
		w.b = append(w.b, id[:]...)
		w.u32(uint32(len(p)))
		w.b = append(w.b, p...)
	}
	return w.b
}

func encodePollMessages(streamID, topicID wire.Identifier, groupID, partitionID uint32, strategy wire.PollingStrategy, count uint32) []byte {
	var w writer
	if groupID != 0 {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.u32(groupID)
	w.b = streamID.AppendBytes(w.b)
	w.b = topicID.AppendBytes(w.b)
	w.u32(partitionID)
	w.u8(uint8(strategy.Kind))
	w.u64(strategy.Value)
	w.u32(count)
	w.u8(0) // no auto-commit
	return w.b
}

func decodePolledMessages(t *testing.T, payload []byte) (partitionID uint32, currentOffset uint64, messages []wire.Message) {
	t.Helper()
	r := newReader(payload)
	partitionID = r.u32()
	currentOffset = r.u64()
	count := r.u32()
	require.NoError(t, r.err)
	rest := r.b
	for i := uint32(0); i < count; i++ {
		m, n, err := wire.ReadMessage(rest)
		require.NoError(t, err)
		messages = append(messages, m)
		rest = rest[n:]
	}
	return
}

func TestHappyPathOverTheWire(t *testing.T) {
	sys, session := testSystem(t)
	login(t, sys, session)

	mustOK(t, sys, session, wire.CodePing, nil)

	resp := mustOK(t, sys, session, wire.CodeGetStreams, nil)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(resp.Payload[:4]))

	var cs writer
	cs.u32(1)
	cs.str8("test-stream")
	mustOK(t, sys, session, wire.CodeCreateStream, cs.b)

	var ct writer
	ct.b = wire.NumericID(1).AppendBytes(ct.b)
	ct.u32(1) // topic id
	ct.u32(2) // partitions
	ct.u64(0) // no expiry
	ct.u64(0) // no max size
	ct.u8(0)  // compression
	ct.u8(0)  // replication
	ct.str8("test-topic")
	ct.b = append(ct.b, 0, 0) // empty key expression (u16 len)
	mustOK(t, sys, session, wire.CodeCreateTopic, ct.b)

	payloads := make([][]byte, 1000)
	for i := range payloads {
		payloads[i] = fmt.Appendf(nil, "message %d", i)
	}
	mustOK(t, sys, session, wire.CodeSendMessages,
		encodeSendMessages(wire.NumericID(1), wire.NumericID(1),
			wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 1}, payloads))

	resp = mustOK(t, sys, session, wire.CodePollMessages,
		encodePollMessages(wire.NumericID(1), wire.NumericID(1), 0, 1,
			wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 1000))
	pid, current, msgs := decodePolledMessages(t, resp.Payload)
	require.Equal(t, uint32(1), pid)
	require.Equal(t, uint64(1000), current)
	require.Len(t, msgs, 1000)
	for i, m := range msgs {
		require.Equal(t, uint64(i), m.Offset)
		require.Equal(t, fmt.Sprintf("message %d", i), string(m.Payload))
	}

	resp = mustOK(t, sys, session, wire.CodePollMessages,
		encodePollMessages(wire.NumericID(1), wire.NumericID(1), 0, 2,
			wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 1000))
	_, _, empty := decodePolledMessages(t, resp.Payload)
	require.Empty(t, empty)

	var tr writer
	tr.b = wire.NumericID(1).AppendBytes(tr.b)
	tr.b = wire.NumericID(1).AppendBytes(tr.b)
	mustOK(t, sys, session, wire.CodeDeleteTopic, tr.b)

	var sr writer
	sr.b = wire.NumericID(1).AppendBytes(sr.b)
	resp = mustOK(t, sys, session, wire.CodeGetTopics, sr.b)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(resp.Payload[:4]))

	mustOK(t, sys, session, wire.CodeDeleteStream, sr.b)
	resp = mustOK(t, sys, session, wire.CodeGetStreams, nil)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(resp.Payload[:4]))
}

func TestPollInBatchesOverTheWire(t *testing.T) {
	sys, session := testSystem(t)
	login(t, sys, session)

	var cs writer
	cs.u32(1)
	cs.str8("s")
	mustOK(t, sys, session, wire.CodeCreateStream, cs.b)

	var ct writer
	ct.b = wire.NumericID(1).AppendBytes(ct.b)
	ct.u32(1)
	ct.u32(1)
	ct.u64(0)
	ct.u64(0)
	ct.u8(0)
	ct.u8(0)
	ct.str8("t")
	ct.b = append(ct.b, 0, 0)
	mustOK(t, sys, session, wire.CodeCreateTopic, ct.b)

	payloads := make([][]byte, 1000)
	for i := range payloads {
		payloads[i] = fmt.Appendf(nil, "message %d", i)
	}
	mustOK(t, sys, session, wire.CodeSendMessages,
		encodeSendMessages(wire.NumericID(1), wire.NumericID(1),
			wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 1}, payloads))

	for batch := 0; batch < 10; batch++ {
		start := uint64(batch * 100)
		resp := mustOK(t, sys, session, wire.CodePollMessages,
			encodePollMessages(wire.NumericID(1), wire.NumericID(1), 0, 1,
				wire.PollingStrategy{Kind: wire.PollOffset, Value: start}, 100))
		_, _, msgs := decodePolledMessages(t, resp.Payload)
		require.Len(t, msgs, 100)
		require.Equal(t, start, msgs[0].Offset)
		require.Equal(t, start+99, msgs[99].Offset)
	}
}

func TestUnknownCodeIsInvalidCommand(t *testing.T) {
	sys, session := testSystem(t)

	resp := Handle(wire.RequestHeader{Code: 0xFFFFFFFF}, session, sys)
	require.Equal(t, wire.KindInvalidCommand, resp.Status)
}

func TestConnectionStateMachine(t *testing.T) {
	sys, session := testSystem(t)

	// Connected: only ping and login pass.
	resp := Handle(wire.RequestHeader{Code: wire.CodeGetStreams}, session, sys)
	require.Equal(t, wire.KindUnauthenticated, resp.Status)
	mustOK(t, sys, session, wire.CodePing, nil)

	login(t, sys, session)
	mustOK(t, sys, session, wire.CodeGetStreams, nil)

	// Logout returns the session to Connected.
	mustOK(t, sys, session, wire.CodeLogoutUser, nil)
	resp = Handle(wire.RequestHeader{Code: wire.CodeGetStreams}, session, sys)
	require.Equal(t, wire.KindUnauthenticated, resp.Status)
}

func TestTruncatedPayloadIsInvalidCommand(t *testing.T) {
	sys, session := testSystem(t)
	login(t, sys, session)

	resp := Handle(wire.RequestHeader{Code: wire.CodeCreateStream, Payload: []byte{1}}, session, sys)
	require.Equal(t, wire.KindInvalidCommand, resp.Status)
}

func TestGroupLifecycleOverTheWire(t *testing.T) {
	sys, session := testSystem(t)
	login(t, sys, session)

	var cs writer
	cs.u32(1)
	cs.str8("s")
	mustOK(t, sys, session, wire.CodeCreateStream, cs.b)

	var ct writer
	ct.b = wire.NumericID(1).AppendBytes(ct.b)
	ct.u32(1)
	ct.u32(4)
	ct.u64(0)
	ct.u64(0)
	ct.u8(0)
	ct.u8(0)
	ct.str8("t")
	ct.b = append(ct.b, 0, 0)
	mustOK(t, sys, session, wire.CodeCreateTopic, ct.b)

	var cg writer
	cg.b = wire.NumericID(1).AppendBytes(cg.b)
	cg.b = wire.NumericID(1).AppendBytes(cg.b)
	cg.u32(1)
	cg.str8("g")
	mustOK(t, sys, session, wire.CodeCreateConsumerGroup, cg.b)

	var jg writer
	jg.b = wire.NumericID(1).AppendBytes(jg.b)
	jg.b = wire.NumericID(1).AppendBytes(jg.b)
	jg.u32(1)
	mustOK(t, sys, session, wire.CodeJoinConsumerGroup, jg.b)

	resp := mustOK(t, sys, session, wire.CodeGetConsumerGroup, jg.b)
	r := newReader(resp.Payload)
	require.Equal(t, uint32(1), r.u32()) // group id
	require.Equal(t, "g", r.str8())
	require.Equal(t, uint32(4), r.u32()) // partitions
	require.Equal(t, uint32(1), r.u32()) // members

	mustOK(t, sys, session, wire.CodeLeaveConsumerGroup, jg.b)
	resp = mustOK(t, sys, session, wire.CodeGetConsumerGroup, jg.b)
	r = newReader(resp.Payload)
	r.u32()
	r.str8()
	r.u32()
	require.Equal(t, uint32(0), r.u32())
}

func TestHandleStreamedFrames(t *testing.T) {
	sys, session := testSystem(t)
	login(t, sys, session)

	var buf bytes.Buffer
	require.NoError(t, HandleStreamed(wire.RequestHeader{Code: wire.CodeGetStreams}, session, sys, &buf))

	status := binary.LittleEndian.Uint32(buf.Bytes()[:4])
	length := binary.LittleEndian.Uint32(buf.Bytes()[4:8])
	require.Equal(t, uint32(0), status)
	require.Equal(t, int(length), buf.Len()-8)
}
