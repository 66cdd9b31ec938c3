// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

func encodeBatch(base uint64, payloads ...string) []byte {
	msgs := make([]wire.Message, len(payloads))
	now := uint64(time.Now().UnixMilli())
	for i, p := range payloads {
		msgs[i] = wire.Message{
			State:     wire.MessageAvailable,
			Timestamp: now,
			Offset:    base + uint64(i),
			Payload:   []byte(p),
			Checksum:  wire.Checksum([]byte(p)),
		}
	}
	batch := wire.Batch{
		Header: wire.BatchHeader{
			BaseOffset:      base,
			LastOffsetDelta: uint32(len(msgs) - 1),
			BaseTimestamp:   now,
			MessagesCount:   uint32(len(msgs)),
		},
		Messages: msgs,
	}
	batch.Header.BatchLength = batch.SizeBytes()
	return batch.AppendBytes(nil)
}

func TestSegmentAppendAndLookup(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 0, wire.ConfirmationWait, false, 3, time.Millisecond)
	require.NoError(t, err)
	defer seg.Close()

	now := uint64(time.Now().UnixMilli())
	first := encodeBatch(0, "a", "b")
	_, err = seg.Append(0, 2, now, first)
	require.NoError(t, err)
	second := encodeBatch(2, "c")
	_, err = seg.Append(2, 1, now+10, second)
	require.NoError(t, err)

	require.Equal(t, uint64(3), seg.EndOffset)
	require.Equal(t, uint64(3), seg.MessageCount)

	pos, ok := seg.LookupOffset(0)
	require.True(t, ok)
	require.Equal(t, uint32(0), pos)

	pos, ok = seg.LookupOffset(2)
	require.True(t, ok)
	require.Equal(t, uint32(len(first)), pos)

	// Offsets inside the first batch resolve to the batch's position.
	pos, ok = seg.LookupOffset(1)
	require.True(t, ok)
	require.Equal(t, uint32(0), pos)

	off, ok := seg.LookupTimestamp(now + 5)
	require.True(t, ok)
	require.Equal(t, uint64(2), off)

	raw, err := seg.ReadAt(uint32(len(first)), uint32(len(second)))
	require.NoError(t, err)
	decoded, err := wire.ReadBatch(raw)
	require.NoError(t, err)
	require.Equal(t, "c", string(decoded.Messages[0].Payload))
}

func TestOpenExistingRecoversCounters(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 100, wire.ConfirmationWait, false, 3, time.Millisecond)
	require.NoError(t, err)

	now := uint64(time.Now().UnixMilli())
	batch := encodeBatch(100, "x", "y", "z")
	_, err = seg.Append(100, 3, now, batch)
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	reopened, err := OpenExisting(dir, 100)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(103), reopened.EndOffset)
	require.Equal(t, uint64(3), reopened.MessageCount)
	require.Equal(t, uint64(len(batch)), reopened.SizeBytes())
}

func TestNoWaitWriterFlushMakesBytesDurable(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 0, wire.ConfirmationNoWait, false, 3, time.Millisecond)
	require.NoError(t, err)
	defer seg.Close()

	now := uint64(time.Now().UnixMilli())
	batch := encodeBatch(0, "durable")
	_, err = seg.Append(0, 1, now, batch)
	require.NoError(t, err)

	require.NoError(t, seg.Flush(true))
	require.Equal(t, uint64(len(batch)), seg.DurableSizeBytes())

	raw, err := seg.ReadAt(0, uint32(len(batch)))
	require.NoError(t, err)
	decoded, err := wire.ReadBatch(raw)
	require.NoError(t, err)
	require.Equal(t, "durable", string(decoded.Messages[0].Payload))
}

func TestClosedSegmentRejectsAppends(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 0, wire.ConfirmationWait, false, 3, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	_, err = seg.Append(0, 1, 1, encodeBatch(0, "late"))
	require.ErrorIs(t, err, wire.ErrCannotWriteToFile)
}
