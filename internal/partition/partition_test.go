// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package partition

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func testConfig() Config {
	return Config{
		SegmentSizeLimit: 64 << 20,
		Confirmation:     wire.ConfirmationWait,
		Fsync:            false,
		MaxFileRetries:   3,
		RetryDelay:       time.Millisecond,
	}
}

func openTestPartition(t *testing.T, cfg Config) *Partition {
	t.Helper()
	tracker := cache.NewMemoryTracker(64 << 20)
	p, err := Open(t.TempDir(), 1, 1, 1, cfg, tracker)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func payloads(n int) []wire.Message {
	msgs := make([]wire.Message, n)
	for i := range msgs {
		msgs[i] = wire.Message{Payload: fmt.Appendf(nil, "message %d", i)}
	}
	return msgs
}

func TestAppendPollRoundTrip(t *testing.T) {
	p := openTestPartition(t, testConfig())

	require.NoError(t, p.Append(payloads(1000)))

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 1000)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 1000)
	require.Equal(t, uint64(1000), polled.CurrentOffset)
	for i, m := range polled.Messages {
		require.Equal(t, uint64(i), m.Offset)
		require.Equal(t, fmt.Sprintf("message %d", i), string(m.Payload))
		require.Equal(t, wire.Checksum(m.Payload), m.Checksum)
	}
}

func TestPollInBatches(t *testing.T) {
	p := openTestPartition(t, testConfig())

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Append(payloads(100)))
	}

	for i := 0; i < 10; i++ {
		start := uint64(i * 100)
		polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: start}, 100)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 100)
		require.Equal(t, start, polled.Messages[0].Offset)
		require.Equal(t, start+99, polled.Messages[99].Offset)
	}
}

func TestPollAtHeadIsEmpty(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(5)))

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 5}, 10)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)
	require.Equal(t, uint64(5), polled.CurrentOffset)
}

func TestPollPastHeadClampsToEmpty(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(5)))

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 9999}, 10)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)
	require.Equal(t, uint64(5), polled.CurrentOffset)
}

func TestPollStrategies(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(10)))

	t.Run("first", func(t *testing.T) {
		polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollFirst}, 3)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 3)
		require.Equal(t, uint64(0), polled.Messages[0].Offset)
	})

	t.Run("last", func(t *testing.T) {
		polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollLast, Value: 4}, 100)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 4)
		require.Equal(t, uint64(6), polled.Messages[0].Offset)
	})

	t.Run("next falls back to first without stored offset", func(t *testing.T) {
		polled, err := p.Poll(Consumer{ID: 7}, wire.PollingStrategy{Kind: wire.PollNext}, 2)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 2)
		require.Equal(t, uint64(0), polled.Messages[0].Offset)
	})

	t.Run("next resumes after stored offset", func(t *testing.T) {
		require.NoError(t, p.StoreConsumerOffset(Consumer{ID: 7}, 4))
		polled, err := p.Poll(Consumer{ID: 7}, wire.PollingStrategy{Kind: wire.PollNext}, 2)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 2)
		require.Equal(t, uint64(5), polled.Messages[0].Offset)
	})

	t.Run("timestamp", func(t *testing.T) {
		polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollTimestamp, Value: 1}, 5)
		require.NoError(t, err)
		require.Len(t, polled.Messages, 5)
		require.Equal(t, uint64(0), polled.Messages[0].Offset)
	})
}

func TestOffsetsAreContiguousAcrossRotations(t *testing.T) {
	cfg := testConfig()
	cfg.SegmentSizeLimit = 256 // force a rotation every append or two
	p := openTestPartition(t, cfg)

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Append(payloads(5)))
	}
	require.Equal(t, uint64(100), p.NextOffset())

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 100)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 100)
	for i, m := range polled.Messages {
		require.Equal(t, uint64(i), m.Offset)
	}
}

func TestRestartDurability(t *testing.T) {
	dir := t.TempDir()
	tracker := cache.NewMemoryTracker(64 << 20)
	cfg := testConfig()

	p, err := Open(dir, 1, 1, 1, cfg, tracker)
	require.NoError(t, err)
	require.NoError(t, p.Append(payloads(42)))
	require.NoError(t, p.StoreConsumerOffset(Consumer{ID: 3}, 41))
	require.NoError(t, p.Close())

	reopened, err := Open(dir, 1, 1, 1, cfg, tracker)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(42), reopened.NextOffset())
	polled, err := reopened.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 100)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 42)

	stored, ok := reopened.ConsumerOffset(Consumer{ID: 3})
	require.True(t, ok)
	require.Equal(t, uint64(41), stored)
}

func TestNoWaitFlushThenPoll(t *testing.T) {
	cfg := testConfig()
	cfg.Confirmation = wire.ConfirmationNoWait
	p := openTestPartition(t, cfg)

	require.NoError(t, p.Append(payloads(100)))
	require.NoError(t, p.FlushUnsavedBuffer(true))

	// Evict the cache so the poll must come from disk.
	p.EvictCache(1 << 30)

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 100)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 100)
}

func TestExpirySweep(t *testing.T) {
	cfg := testConfig()
	cfg.MessageExpiry = 50 * time.Millisecond
	p := openTestPartition(t, cfg)

	require.NoError(t, p.Append(payloads(10)))
	time.Sleep(120 * time.Millisecond)

	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 100)
	require.NoError(t, err)
	require.Empty(t, polled.Messages)

	p.SweepExpired()
	require.Equal(t, uint64(0), p.MessagesCount())
	require.Equal(t, uint64(10), p.NextOffset())
}

func TestPurgeKeepsStructure(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(10)))
	require.NoError(t, p.StoreConsumerOffset(Consumer{ID: 1}, 5))

	require.NoError(t, p.Purge())
	require.Equal(t, uint64(0), p.NextOffset())
	_, ok := p.ConsumerOffset(Consumer{ID: 1})
	require.False(t, ok)

	require.NoError(t, p.Append(payloads(3)))
	polled, err := p.Poll(Consumer{ID: 1}, wire.PollingStrategy{Kind: wire.PollOffset, Value: 0}, 10)
	require.NoError(t, err)
	require.Len(t, polled.Messages, 3)
}

func TestStoreConsumerOffsetRejectsPastHead(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(5)))

	err := p.StoreConsumerOffset(Consumer{ID: 1}, 5)
	require.ErrorIs(t, err, wire.ErrInvalidOffset)
	require.NoError(t, p.StoreConsumerOffset(Consumer{ID: 1}, 4))
}

func TestGroupMemberOffsetsAreIndependent(t *testing.T) {
	p := openTestPartition(t, testConfig())
	require.NoError(t, p.Append(payloads(10)))

	a := Consumer{Kind: ConsumerGroupMember, ID: 1, MemberID: 100}
	b := Consumer{Kind: ConsumerGroupMember, ID: 1, MemberID: 200}
	require.NoError(t, p.StoreConsumerOffset(a, 3))
	require.NoError(t, p.StoreConsumerOffset(b, 7))

	va, ok := p.ConsumerOffset(a)
	require.True(t, ok)
	require.Equal(t, uint64(3), va)
	vb, ok := p.ConsumerOffset(b)
	require.True(t, ok)
	require.Equal(t, uint64(7), vb)
}
