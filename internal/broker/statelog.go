// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// stateLog is the append-only metadata log under <data>/state/log. Every
// structural change (stream/topic create, delete, purge) appends one
// record `[u64 timestamp][u8 event][u32 stream][u32 topic]`, little-endian
// like everything else on disk. The authoritative metadata lives in the
// per-directory info files; the log is the ordered history of changes.
type stateLog struct {
	mu   sync.Mutex
	file *os.File
}

type stateEvent uint8

const (
	stateStreamCreated stateEvent = iota + 1
	stateStreamDeleted
	stateTopicCreated
	stateTopicDeleted
	stateStreamPurged
	stateTopicPurged
)

func openStateLog(dataPath string) (*stateLog, error) {
	dir := filepath.Join(dataPath, "state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}
	f, err := os.OpenFile(filepath.Join(dir, "log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return &stateLog{file: f}, nil
}

func (l *stateLog) append(event stateEvent, streamID, topicID uint32) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf [17]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(time.Now().UnixMilli()))
	buf[8] = byte(event)
	binary.LittleEndian.PutUint32(buf[9:13], streamID)
	binary.LittleEndian.PutUint32(buf[13:17], topicID)
	if _, err := l.file.Write(buf[:]); err != nil {
		cclog.Warnf("[SYSTEM]> state log append: %v", err)
	}
}

func (l *stateLog) close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Close()
}
