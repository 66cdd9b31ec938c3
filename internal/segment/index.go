// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"
)

// indexEntry is one fixed-width offset-index record: the offset relative
// to the segment's start, the byte position in the log file, and the
// message timestamp — kept fixed-width so on-disk and in-memory
// representations are both binary-searchable without parsing, mirroring
// the fixed-record layout used by the checkpoint binary format.
type indexEntry struct {
	RelativeOffset uint32
	Position       uint32
	Timestamp      uint64
}

const indexEntrySize = 4 + 4 + 8

// Index is the in-memory, append-only offset/time index for one segment.
// It is flushed to two on-disk files (`<start>.index` and
// `<start>.timeindex`) sharing the same fixed-width entry encoding.
type Index struct {
	mu      sync.RWMutex
	entries []indexEntry

	indexPath     string
	timeIndexPath string
	indexFile     *os.File
	timeIndexFile *os.File
}

// OpenIndex opens (creating if absent) the offset and time index files for
// a segment and loads any existing entries into memory.
func OpenIndex(indexPath, timeIndexPath string) (*Index, error) {
	idx := &Index{indexPath: indexPath, timeIndexPath: timeIndexPath}

	f, err := os.OpenFile(indexPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	idx.indexFile = f

	tf, err := os.OpenFile(timeIndexPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		f.Close()
		return nil, err
	}
	idx.timeIndexFile = tf

	if err := idx.load(); err != nil {
		f.Close()
		tf.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load() error {
	if _, err := idx.indexFile.Seek(0, 0); err != nil {
		return err
	}
	r := bufio.NewReader(idx.indexFile)
	var buf [indexEntrySize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			break
		}
		idx.entries = append(idx.entries, indexEntry{
			RelativeOffset: binary.LittleEndian.Uint32(buf[0:4]),
			Position:       binary.LittleEndian.Uint32(buf[4:8]),
			Timestamp:      binary.LittleEndian.Uint64(buf[8:16]),
		})
	}
	if _, err := idx.indexFile.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

// Append records a new index entry and durably appends it to both on-disk
// index files.
func (idx *Index) Append(relativeOffset, position uint32, timestamp uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry := indexEntry{RelativeOffset: relativeOffset, Position: position, Timestamp: timestamp}
	idx.entries = append(idx.entries, entry)

	var buf [indexEntrySize]byte
	binary.LittleEndian.PutUint32(buf[0:4], entry.RelativeOffset)
	binary.LittleEndian.PutUint32(buf[4:8], entry.Position)
	binary.LittleEndian.PutUint64(buf[8:16], entry.Timestamp)
	if _, err := idx.indexFile.Write(buf[:]); err != nil {
		return err
	}
	_, err := idx.timeIndexFile.Write(buf[:])
	return err
}

// LookupOffset binary-searches for the entry whose RelativeOffset is the
// greatest one not exceeding target. The caller then scans forward within
// the batch at the returned position. Returns ok=false if the index is
// empty or target precedes every entry.
func (idx *Index) LookupOffset(target uint32) (entry indexEntry, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].RelativeOffset > target })
	if i == 0 {
		return indexEntry{}, false
	}
	return idx.entries[i-1], true
}

// LookupTimestamp returns the smallest offset whose timestamp is >= t.
func (idx *Index) LookupTimestamp(t uint64) (entry indexEntry, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].Timestamp >= t })
	if i == n {
		return indexEntry{}, false
	}
	return idx.entries[i], true
}

// LastTimestamp returns the timestamp of the newest indexed batch, or 0
// for an empty index.
func (idx *Index) LastTimestamp() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 {
		return 0
	}
	return idx.entries[len(idx.entries)-1].Timestamp
}

// Len returns the number of indexed batches.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Close releases the index's file handles.
func (idx *Index) Close() error {
	if err := idx.indexFile.Close(); err != nil {
		return err
	}
	return idx.timeIndexFile.Close()
}
