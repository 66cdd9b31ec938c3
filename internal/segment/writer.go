// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package segment implements the on-disk segment log: the append-only
// batch file, its offset and time indexes, and the rotation/rolling logic
// that closes a full segment and opens the next one.
package segment

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// LogWriter owns one segment's append-only log file. It supports two
// confirmation modes: Wait writes synchronously (optionally fsyncing)
// before returning; NoWait hands the batch to a persister goroutine and
// returns immediately, trading durability latency for throughput.
type LogWriter struct {
	filePath string
	fsync    bool
	logSize  atomic.Uint64 // bytes written so far; readers use Load for an acquire-equivalent view
	confirm  wire.Confirmation

	mu   sync.Mutex // guards file for the Wait path
	file *os.File

	persister *persisterTask
}

// openLogWriter opens (creating if absent) the log file in append mode,
// establishes the starting size from the file's actual length, and — for
// NoWait — spins up the persister task that owns the file handle from then
// on.
func openLogWriter(filePath string, confirm wire.Confirmation, fsync bool, maxRetries int, retryDelay time.Duration) (*LogWriter, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	if err := f.Sync(); err != nil {
		cclog.Warnf("[SEGMENT]> fsync after open failed for %s: %v", filePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wire.Wrap(wire.KindCannotReadFileMetadata, err.Error())
	}

	w := &LogWriter{filePath: filePath, fsync: fsync, confirm: confirm}
	w.logSize.Store(uint64(info.Size()))

	switch confirm {
	case wire.ConfirmationNoWait:
		w.persister = newPersisterTask(f, filePath, fsync, &w.logSize, maxRetries, retryDelay)
	default:
		w.file = f
	}

	return w, nil
}

// SaveBatch appends one already-encoded batch to the log under the
// configured confirmation contract. The returned size is the batch's
// serialized length.
func (w *LogWriter) SaveBatch(encoded []byte) (uint64, error) {
	switch w.confirm {
	case wire.ConfirmationNoWait:
		if w.persister == nil {
			return 0, fmt.Errorf("%w: NoWait writer has no persister task", wire.ErrCannotWriteToFile)
		}
		w.persister.enqueue(encoded)
		return uint64(len(encoded)), nil
	default:
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, err := w.file.Write(encoded); err != nil {
			return 0, wire.Wrap(wire.KindCannotWriteToFile, err.Error())
		}
		w.logSize.Add(uint64(len(encoded)))
		if w.fsync {
			if err := w.file.Sync(); err != nil {
				cclog.Warnf("[SEGMENT]> fsync failed for %s: %v", w.filePath, err)
			}
		}
		return uint64(len(encoded)), nil
	}
}

// LogSizeBytes returns the monotonically non-decreasing byte size of the
// log as currently observed: advanced before return in Wait mode, after
// each successful persister write in NoWait mode.
func (w *LogWriter) LogSizeBytes() uint64 {
	return w.logSize.Load()
}

// Flush drains the persister queue (NoWait mode only) and optionally
// fsyncs, for FlushUnsavedBuffer.
func (w *LogWriter) Flush(fsync bool) error {
	if w.persister != nil {
		w.persister.drain()
		if fsync {
			return w.persister.fsync()
		}
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if fsync && w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close shuts the writer down, draining and stopping the persister task if
// one is running.
func (w *LogWriter) Close() error {
	if w.persister != nil {
		w.persister.shutdown()
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
