// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// State tags whether a segment still accepts appends.
type State uint8

const (
	Open State = iota
	Closed
)

// Segment owns one on-disk batch file plus its offset/time indexes. Only
// the partition's single writable segment is Open; closed segments are
// immutable.
type Segment struct {
	dir          string
	StartOffset  uint64
	EndOffset    uint64 // exclusive upper bound; next_offset once open
	MessageCount uint64
	State        State

	// size is the logical byte length including batches still queued in
	// the persister; the writer's own counter only advances once bytes are
	// durable, so index positions must come from here.
	size uint64

	writer *LogWriter
	index  *Index
}

func logPath(dir string, start uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", start))
}

func indexPath(dir string, start uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", start))
}

func timeIndexPath(dir string, start uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.timeindex", start))
}

// Create opens a brand-new writable segment starting at startOffset.
func Create(dir string, startOffset uint64, confirm wire.Confirmation, fsync bool, maxRetries int, retryDelay time.Duration) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}
	w, err := openLogWriter(logPath(dir, startOffset), confirm, fsync, maxRetries, retryDelay)
	if err != nil {
		return nil, err
	}
	idx, err := OpenIndex(indexPath(dir, startOffset), timeIndexPath(dir, startOffset))
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Segment{
		dir:         dir,
		StartOffset: startOffset,
		EndOffset:   startOffset,
		State:       Open,
		size:        w.LogSizeBytes(),
		writer:      w,
		index:       idx,
	}, nil
}

// Append writes one already-framed batch at the given base (absolute)
// offset, records an index entry, and advances the segment's bookkeeping.
// Returns the new total log size in bytes, for rotation decisions.
func (s *Segment) Append(baseOffset uint64, messageCount uint32, timestamp uint64, encoded []byte) (uint64, error) {
	if s.State != Open {
		return 0, fmt.Errorf("%w: segment %d is closed", wire.ErrCannotWriteToFile, s.StartOffset)
	}
	position := uint32(s.size)
	if _, err := s.writer.SaveBatch(encoded); err != nil {
		return 0, err
	}
	relative := uint32(baseOffset - s.StartOffset)
	if err := s.index.Append(relative, position, timestamp); err != nil {
		return 0, wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	s.size += uint64(len(encoded))
	s.EndOffset = baseOffset + uint64(messageCount)
	s.MessageCount += uint64(messageCount)
	return s.size, nil
}

// SizeBytes returns the segment's logical log size, including batches a
// NoWait persister has not flushed yet.
func (s *Segment) SizeBytes() uint64 {
	return s.size
}

// DurableSizeBytes returns the byte count actually on disk; reads must not
// run past this bound.
func (s *Segment) DurableSizeBytes() uint64 {
	if s.writer != nil {
		return s.writer.LogSizeBytes()
	}
	return s.size
}

// ReadAt reads the raw log bytes at [position, position+length) for batch
// reconstruction by the partition's poll path.
func (s *Segment) ReadAt(position uint32, length uint32) ([]byte, error) {
	f, err := os.Open(logPath(s.dir, s.StartOffset))
	if err != nil {
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(position)); err != nil {
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	return buf, nil
}

// LookupOffset finds the index entry to start reading from for a poll at
// the given absolute offset.
func (s *Segment) LookupOffset(offset uint64) (position uint32, ok bool) {
	if offset < s.StartOffset {
		return 0, false
	}
	entry, ok := s.index.LookupOffset(uint32(offset - s.StartOffset))
	if !ok {
		return 0, false
	}
	return entry.Position, true
}

// LookupTimestamp finds the offset of the first batch at or after t.
func (s *Segment) LookupTimestamp(t uint64) (offset uint64, ok bool) {
	entry, ok := s.index.LookupTimestamp(t)
	if !ok {
		return 0, false
	}
	return s.StartOffset + uint64(entry.RelativeOffset), true
}

// MaxTimestamp returns the newest batch timestamp in the segment, used by
// the expiry sweep to decide whether the whole segment is past retention.
func (s *Segment) MaxTimestamp() uint64 {
	return s.index.LastTimestamp()
}

// Flush drains any buffered (NoWait) writes and optionally fsyncs.
func (s *Segment) Flush(fsync bool) error {
	return s.writer.Flush(fsync)
}

// Close transitions the segment to Closed, releasing its file handles.
// Once closed a segment is immutable.
func (s *Segment) Close() error {
	s.State = Closed
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.index.Close()
}

// Remove deletes the segment's files from disk.
func (s *Segment) Remove() error {
	_ = os.Remove(logPath(s.dir, s.StartOffset))
	_ = os.Remove(indexPath(s.dir, s.StartOffset))
	_ = os.Remove(timeIndexPath(s.dir, s.StartOffset))
	return nil
}

// OpenExisting reopens a previously-written segment in read-only fashion
// for historical reads (e.g. reloaded at partition recovery time, or an
// older segment being consulted by a poll that spans it). End offset and
// message count are recovered by walking the batch headers in the log.
func OpenExisting(dir string, startOffset uint64) (*Segment, error) {
	idx, err := OpenIndex(indexPath(dir, startOffset), timeIndexPath(dir, startOffset))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(logPath(dir, startOffset))
	if err != nil {
		idx.Close()
		return nil, wire.Wrap(wire.KindCannotReadFileMetadata, err.Error())
	}
	seg := &Segment{
		dir:         dir,
		StartOffset: startOffset,
		EndOffset:   startOffset,
		State:       Closed,
		size:        uint64(info.Size()),
		index:       idx,
	}
	if err := seg.recover(); err != nil {
		idx.Close()
		return nil, err
	}
	return seg, nil
}

// recover walks the batch headers from the start of the log, rebuilding
// EndOffset and MessageCount. A header that does not line up with the file
// length means the segment cannot be trusted.
func (s *Segment) recover() error {
	const headerLen = 29
	var pos uint64
	for pos+headerLen <= s.size {
		head, err := s.ReadAt(uint32(pos), headerLen)
		if err != nil {
			return err
		}
		batchLength := uint64(binary.LittleEndian.Uint32(head[24:28]))
		messagesCount := uint64(binary.LittleEndian.Uint32(head[20:24]))
		if batchLength < headerLen || pos+batchLength > s.size {
			return fmt.Errorf("%w: batch header at %d overruns segment %d", wire.ErrFileCorrupted, pos, s.StartOffset)
		}
		s.EndOffset = binary.LittleEndian.Uint64(head[0:8]) + messagesCount
		s.MessageCount += messagesCount
		pos += batchLength
	}
	return nil
}
