// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package topic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/partition"
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

func openTestTopic(t *testing.T, cfg Config) *Topic {
	t.Helper()
	tracker := cache.NewMemoryTracker(64 << 20)
	tp, err := Open(t.TempDir(), 1, 1, "test-topic", cfg, testPartitionConfig(), tracker)
	require.NoError(t, err)
	t.Cleanup(func() { tp.Close() })
	return tp
}

func messages(n int) []wire.Message {
	msgs := make([]wire.Message, n)
	for i := range msgs {
		msgs[i] = wire.Message{Payload: fmt.Appendf(nil, "message %d", i)}
	}
	return msgs
}

func TestAppendByPartitionID(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 2})

	pid, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 1}, messages(1000))
	require.NoError(t, err)
	require.Equal(t, uint32(1), pid)

	polled, err := tp.Poll(PollIdentity{ClientID: 1}, 1, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 1000)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1000)
	for i, m := range polled.Messages {
		require.Equal(t, uint64(i), m.Offset)
		require.Equal(t, fmt.Sprintf("message %d", i), string(m.Payload))
	}

	empty, err := tp.Poll(PollIdentity{ClientID: 1}, 2, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 1000)
	require.NoError(t, err)
	require.Empty(t, empty.Messages)
}

func TestAppendToUnknownPartition(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 2})

	_, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 9}, messages(1))
	require.ErrorIs(t, err, wire.ErrPartitionNotFound)
}

func TestBalancedSpreadsRoundRobin(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4})

	counts := make(map[uint32]int)
	for i := 0; i < 40; i++ {
		pid, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, messages(1))
		require.NoError(t, err)
		counts[pid]++
	}
	for pid := uint32(1); pid <= 4; pid++ {
		require.Equal(t, 10, counts[pid], "partition %d", pid)
	}
}

func TestMessagesKeyIsStable(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4})

	first, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningMessagesKey, Key: []byte("order-42")}, messages(1))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		pid, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningMessagesKey, Key: []byte("order-42")}, messages(1))
		require.NoError(t, err)
		require.Equal(t, first, pid)
	}

	_, err = tp.Append(wire.Partitioning{Kind: wire.PartitioningMessagesKey}, messages(1))
	require.ErrorIs(t, err, wire.ErrInvalidPartitioning)
}

func TestKeyExpressionRouting(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4, KeyExpression: `headers.tenant`})

	withTenant := func(tenant string) []wire.Message {
		return []wire.Message{{Payload: []byte("x"), Headers: map[string]string{"tenant": tenant}}}
	}

	first, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, withTenant("acme"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		pid, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, withTenant("acme"))
		require.NoError(t, err)
		require.Equal(t, first, pid)
	}
}

func TestGroupRebalanceScenario(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4})

	g, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)

	require.NoError(t, tp.JoinGroup(1, 100)) // client A
	require.NoError(t, tp.JoinGroup(1, 200)) // client B

	require.Equal(t, []uint32{0, 1}, g.AssignedPartitions(100))
	require.Equal(t, []uint32{2, 3}, g.AssignedPartitions(200))

	require.NoError(t, tp.LeaveGroup(1, 200))
	require.Equal(t, []uint32{0, 1, 2, 3}, g.AssignedPartitions(100))
}

func TestGroupMemberPollsAssignedPartition(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 2})

	_, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinGroup(1, 100))

	// Member 100 owns both slots; rotation starts at partition 1.
	_, err = tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 1}, messages(5))
	require.NoError(t, err)

	polled, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 100}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 5)
	require.Equal(t, uint32(1), polled.PartitionID)
}

func TestGroupMemberReachesEveryOwnedPartition(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4})

	_, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinGroup(1, 100)) // sole member owns all four partitions

	for pid := uint32(1); pid <= 4; pid++ {
		_, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: pid}, messages(3))
		require.NoError(t, err)
	}

	t.Run("rotation drains all partitions", func(t *testing.T) {
		seen := make(map[uint32]int)
		for i := 0; i < 4; i++ {
			polled, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 100}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
			require.NoError(t, err)
			require.Len(t, polled.Messages, 3)
			seen[polled.PartitionID]++
		}
		for pid := uint32(1); pid <= 4; pid++ {
			require.Equal(t, 1, seen[pid], "partition %d", pid)
		}
	})

	t.Run("explicit partition id is honored", func(t *testing.T) {
		polled, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 100}, 3, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 3)
		require.Equal(t, uint32(3), polled.PartitionID)
	})

	t.Run("unknown partition errors", func(t *testing.T) {
		_, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 100}, 9, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
		require.ErrorIs(t, err, wire.ErrPartitionNotFound)
	})
}

func TestGroupMemberCannotReadAnotherMembersPartition(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 4})

	_, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinGroup(1, 100)) // owns slots 0,1
	require.NoError(t, tp.JoinGroup(1, 200)) // owns slots 2,3

	_, err = tp.Append(wire.Partitioning{Kind: wire.PartitioningPartitionID, PartitionID: 3}, messages(5))
	require.NoError(t, err)

	polled, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 100}, 3, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)
	require.Equal(t, uint32(0), polled.PartitionID)

	owner, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 200}, 3, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Len(t, owner.Messages, 5)
	require.Equal(t, uint32(3), owner.PartitionID)
}

func TestGroupMemberWithoutAssignmentGetsEmpty(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 1})

	_, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinGroup(1, 100))
	require.NoError(t, tp.JoinGroup(1, 200)) // one partition, two members: 200 owns nothing

	polled, err := tp.Poll(PollIdentity{GroupID: 1, ClientID: 200}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)
	require.Equal(t, uint32(0), polled.PartitionID)
}

func TestDirectPollNeedsPartitionIDOnMultiPartitionTopic(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 2})

	_, err := tp.Poll(PollIdentity{ClientID: 1}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.ErrorIs(t, err, wire.ErrPartitionNotFound)

	single := openTestTopic(t, Config{PartitionsCount: 1})
	_, err = single.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, messages(3))
	require.NoError(t, err)
	polled, err := single.Poll(PollIdentity{ClientID: 1}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 10)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 3)
}

func TestExpirySweepEmptiesTopic(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 1, MessageExpiry: 50 * time.Millisecond})

	_, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, messages(10))
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	polled, err := tp.Poll(PollIdentity{ClientID: 1}, 0, wire.PollingStrategy{Kind: wire.PollFirst}, 100)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)

	tp.SweepExpired()
	require.Equal(t, uint64(0), tp.MessagesCount())
}

func TestMaxSizeEnforcement(t *testing.T) {
	cfg := Config{PartitionsCount: 1, MaxTopicSize: 2048}
	tracker := cache.NewMemoryTracker(64 << 20)
	pcfg := testPartitionConfig()
	pcfg.SegmentSizeLimit = 512 // several closed segments
	tp, err := Open(t.TempDir(), 1, 1, "sized", cfg, pcfg, tracker)
	require.NoError(t, err)
	defer tp.Close()

	for i := 0; i < 40; i++ {
		_, err := tp.Append(wire.Partitioning{Kind: wire.PartitioningBalanced}, messages(5))
		require.NoError(t, err)
	}
	require.Greater(t, tp.SizeBytes(), uint64(2048))

	tp.EnforceMaxSize()
	require.LessOrEqual(t, tp.SizeBytes(), uint64(2048))
}

func TestAddRemovePartitionsRebalancesGroups(t *testing.T) {
	tp := openTestTopic(t, Config{PartitionsCount: 2})
	g, err := tp.CreateGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinGroup(1, 100))

	require.NoError(t, tp.AddPartitions(2))
	require.Equal(t, uint32(4), tp.PartitionsCount())
	require.Equal(t, []uint32{0, 1, 2, 3}, g.AssignedPartitions(100))

	require.NoError(t, tp.RemovePartitions(3))
	require.Equal(t, uint32(1), tp.PartitionsCount())
	require.Equal(t, []uint32{0}, g.AssignedPartitions(100))
}
