// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"io"

	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// streamChunkSize is the write granularity used when a long response
// (list operations, large polls) is streamed to a transport instead of
// being buffered into one write.
const streamChunkSize = 64 << 10

// HandleStreamed runs Handle and writes the response to w in bounded
// chunks: the 8-byte status/length header first, then the payload in
// streamChunkSize pieces. Transports use this for long responses so a
// multi-megabyte poll never sits in a second full-size buffer.
func HandleStreamed(req wire.RequestHeader, session *broker.Session, sys *broker.System, w io.Writer) error {
	resp := Handle(req, session, sys)

	var header writer
	header.u32(uint32(resp.Status))
	header.u32(uint32(len(resp.Payload)))
	if _, err := w.Write(header.b); err != nil {
		return err
	}

	payload := resp.Payload
	for len(payload) > 0 {
		n := len(payload)
		if n > streamChunkSize {
			n = streamChunkSize
		}
		if _, err := w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}
