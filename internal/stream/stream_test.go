// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func testPartitionConfig() partition.Config {
	return partition.Config{
		SegmentSizeLimit: 64 << 20,
		Confirmation:     wire.ConfirmationWait,
		MaxFileRetries:   3,
		RetryDelay:       time.Millisecond,
	}
}

func TestStreamTopicLifecycle(t *testing.T) {
	tracker := cache.NewMemoryTracker(64 << 20)
	s, err := Create(t.TempDir(), 1, "test-stream", testPartitionConfig(), tracker)
	require.NoError(t, err)
	defer s.Close()

	tp, err := s.CreateTopic(1, "test-topic", topic.Config{PartitionsCount: 2})
	require.NoError(t, err)
	require.Equal(t, uint32(2), tp.PartitionsCount())

	_, err = s.CreateTopic(1, "other", topic.Config{PartitionsCount: 1})
	require.Error(t, err)
	_, err = s.CreateTopic(2, "test-topic", topic.Config{PartitionsCount: 1})
	require.Error(t, err)

	byName, err := s.TopicByName("test-topic")
	require.NoError(t, err)
	require.Equal(t, tp, byName)

	require.NoError(t, s.DeleteTopic(1))
	require.Empty(t, s.Topics())

	_, err = s.Topic(1)
	require.ErrorIs(t, err, wire.ErrTopicIDNotFound)
}

func TestStreamReload(t *testing.T) {
	dir := t.TempDir()
	tracker := cache.NewMemoryTracker(64 << 20)

	s, err := Create(dir, 1, "test-stream", testPartitionConfig(), tracker)
	require.NoError(t, err)

	tp, err := s.CreateTopic(3, "orders", topic.Config{
		PartitionsCount: 2,
		MessageExpiry:   time.Hour,
		MaxTopicSize:    1 << 30,
	})
	require.NoError(t, err)
	_, err = tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 1},
		[]wire.Message{{Payload: []byte("persisted")}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	loaded, err := Load(dir, 1, testPartitionConfig(), tracker)
	require.NoError(t, err)
	defer loaded.Close()

	require.Equal(t, "test-stream", loaded.Name)
	reloaded, err := loaded.Topic(3)
	require.NoError(t, err)
	require.Equal(t, "orders", reloaded.Name)
	require.Equal(t, uint32(2), reloaded.PartitionsCount())
	require.Equal(t, time.Hour, reloaded.Config().MessageExpiry)

	polled, err := reloaded.Poll(topic.PollIdentity{ClientID: 1}, 1, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1)
	require.Equal(t, "persisted", string(polled.Messages[0].Payload))
}

func TestInfoRecordRoundTrip(t *testing.T) {
	r := infoRecord{
		ID:              7,
		Name:            "events",
		CreatedAt:       123456789,
		PartitionsCount: 4,
		MessageExpiryMs: 60000,
		MaxTopicSize:    1 << 20,
		CompressionAlgo: 1,
		Replication:     3,
		KeyExpression:   `headers.tenant`,
	}
	parsed, err := parseInfo(r.appendBytes(nil))
	require.NoError(t, err)
	require.Equal(t, r, parsed)
}
