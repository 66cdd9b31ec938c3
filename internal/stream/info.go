// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package stream

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// infoFileName is the metadata file written at both the stream and topic
// level of the on-disk layout.
const infoFileName = "topic.info"

// infoRecord is the serialized metadata of a stream or topic. It uses the
// same little-endian length-prefixed framing as the wire protocol; the
// stream-level record simply leaves the topic fields zero.
type infoRecord struct {
	ID              uint32
	Name            string
	CreatedAt       uint64
	PartitionsCount uint32
	MessageExpiryMs uint64
	MaxTopicSize    uint64
	CompressionAlgo uint8
	Replication     uint8
	KeyExpression   string
}

// TopicConfig converts the record back into a topic configuration.
func (r infoRecord) TopicConfig() topic.Config {
	return topic.Config{
		PartitionsCount:   r.PartitionsCount,
		MessageExpiry:     time.Duration(r.MessageExpiryMs) * time.Millisecond,
		MaxTopicSize:      r.MaxTopicSize,
		CompressionAlgo:   r.CompressionAlgo,
		ReplicationFactor: r.Replication,
		KeyExpression:     r.KeyExpression,
	}
}

func (r infoRecord) appendBytes(buf []byte) []byte {
	var tmp [8]byte

	binary.LittleEndian.PutUint32(tmp[:4], r.ID)
	buf = append(buf, tmp[:4]...)

	buf = append(buf, byte(len(r.Name)))
	buf = append(buf, r.Name...)

	binary.LittleEndian.PutUint64(tmp[:], r.CreatedAt)
	buf = append(buf, tmp[:]...)

	binary.LittleEndian.PutUint32(tmp[:4], r.PartitionsCount)
	buf = append(buf, tmp[:4]...)

	binary.LittleEndian.PutUint64(tmp[:], r.MessageExpiryMs)
	buf = append(buf, tmp[:]...)

	binary.LittleEndian.PutUint64(tmp[:], r.MaxTopicSize)
	buf = append(buf, tmp[:]...)

	buf = append(buf, r.CompressionAlgo, r.Replication)

	binary.LittleEndian.PutUint16(tmp[:2], uint16(len(r.KeyExpression)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, r.KeyExpression...)

	return buf
}

func parseInfo(b []byte) (infoRecord, error) {
	var r infoRecord
	if len(b) < 5 {
		return r, wire.Wrap(wire.KindInvalidFormat, "info record truncated")
	}
	r.ID = binary.LittleEndian.Uint32(b[:4])
	nameLen := int(b[4])
	b = b[5:]
	if len(b) < nameLen+8+4+8+8+2+2 {
		return r, wire.Wrap(wire.KindInvalidFormat, "info record truncated")
	}
	r.Name = string(b[:nameLen])
	b = b[nameLen:]
	r.CreatedAt = binary.LittleEndian.Uint64(b[:8])
	r.PartitionsCount = binary.LittleEndian.Uint32(b[8:12])
	r.MessageExpiryMs = binary.LittleEndian.Uint64(b[12:20])
	r.MaxTopicSize = binary.LittleEndian.Uint64(b[20:28])
	r.CompressionAlgo = b[28]
	r.Replication = b[29]
	exprLen := int(binary.LittleEndian.Uint16(b[30:32]))
	b = b[32:]
	if len(b) < exprLen {
		return r, wire.Wrap(wire.KindInvalidFormat, "info record truncated")
	}
	r.KeyExpression = string(b[:exprLen])
	return r, nil
}

func writeInfo(path string, r infoRecord) error {
	if err := os.WriteFile(path, r.appendBytes(nil), 0o644); err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return nil
}

func readInfo(path string) (infoRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return infoRecord{}, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	return parseInfo(raw)
}
