// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"fmt"
	"hash/crc32"
)

// MessageState tags the lifecycle of a stored message. Only Available is
// produced by this implementation; the others are reserved wire states a
// reader must not choke on.
type MessageState uint8

const (
	MessageAvailable MessageState = 1
	MessageDeleted   MessageState = 2
)

// Message is one payload entry inside a Batch. ID is client-supplied (0
// means "assign a random one"); Offset is assigned by the partition at
// append time.
type Message struct {
	ID        [16]byte
	State     MessageState
	Timestamp uint64
	Offset    uint64
	Checksum  uint32
	Headers   map[string]string
	Payload   []byte
}

// Checksum computes the CRC32C checksum over payload, matching the
// `checksum: u32 over payload` field of the data model.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, crc32.MakeTable(crc32.Castagnoli))
}

// AppendBytes serializes one message entry (without headers, which travel
// out of band in this implementation — see BatchHeader.Attributes) onto buf.
func (m Message) AppendBytes(buf []byte) []byte {
	buf = append(buf, m.ID[:]...)
	buf = append(buf, byte(m.State))
	buf = appendUint64(buf, m.Timestamp)
	buf = appendUint64(buf, m.Offset)
	buf = appendUint32(buf, m.Checksum)
	buf = appendUint32(buf, uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)
	return buf
}

// ReadMessage decodes one message entry from the head of b, returning the
// message and bytes consumed.
func ReadMessage(b []byte) (Message, int, error) {
	const fixed = 16 + 1 + 8 + 8 + 4 + 4
	if len(b) < fixed {
		return Message{}, 0, fmt.Errorf("%w: message header truncated", ErrInvalidFormat)
	}
	var m Message
	copy(m.ID[:], b[0:16])
	m.State = MessageState(b[16])
	m.Timestamp = readUint64(b[17:25])
	m.Offset = readUint64(b[25:33])
	m.Checksum = readUint32(b[33:37])
	length := int(readUint32(b[37:41]))
	if len(b) < fixed+length {
		return Message{}, 0, fmt.Errorf("%w: message payload truncated", ErrInvalidFormat)
	}
	m.Payload = append([]byte(nil), b[fixed:fixed+length]...)
	return m, fixed + length, nil
}

// BatchHeader precedes a contiguous run of messages appended as one unit.
type BatchHeader struct {
	BaseOffset      uint64
	LastOffsetDelta uint32
	BaseTimestamp   uint64
	MessagesCount   uint32
	BatchLength     uint32
	Attributes      uint8
}

// Batch is a contiguous run of messages appended atomically.
type Batch struct {
	Header   BatchHeader
	Messages []Message
}

// AppendBytes serializes the batch header followed by every message in
// order.
func (bt Batch) AppendBytes(buf []byte) []byte {
	buf = appendUint64(buf, bt.Header.BaseOffset)
	buf = appendUint32(buf, bt.Header.LastOffsetDelta)
	buf = appendUint64(buf, bt.Header.BaseTimestamp)
	buf = appendUint32(buf, bt.Header.MessagesCount)
	buf = appendUint32(buf, bt.Header.BatchLength)
	buf = append(buf, bt.Header.Attributes)
	for _, m := range bt.Messages {
		buf = m.AppendBytes(buf)
	}
	return buf
}

// ReadBatch decodes a full batch (header + every message) from b.
func ReadBatch(b []byte) (Batch, error) {
	const headerLen = 8 + 4 + 8 + 4 + 4 + 1
	if len(b) < headerLen {
		return Batch{}, fmt.Errorf("%w: batch header truncated", ErrInvalidFormat)
	}
	h := BatchHeader{
		BaseOffset:      readUint64(b[0:8]),
		LastOffsetDelta: readUint32(b[8:12]),
		BaseTimestamp:   readUint64(b[12:20]),
		MessagesCount:   readUint32(b[20:24]),
		BatchLength:     readUint32(b[24:28]),
		Attributes:      b[28],
	}
	rest := b[headerLen:]
	messages := make([]Message, 0, h.MessagesCount)
	for i := uint32(0); i < h.MessagesCount; i++ {
		m, n, err := ReadMessage(rest)
		if err != nil {
			return Batch{}, err
		}
		messages = append(messages, m)
		rest = rest[n:]
	}
	return Batch{Header: h, Messages: messages}, nil
}

// SizeBytes returns the serialized size of the batch in bytes.
func (bt Batch) SizeBytes() uint32 {
	return uint32(len(bt.AppendBytes(nil)))
}
