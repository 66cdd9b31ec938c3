// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFramePayload bounds a single request/response payload to guard the
// reader against a corrupt or hostile length prefix.
const MaxFramePayload = 256 << 20 // 256 MiB

// RequestHeader is the decoded `[u32 code LE][payload...]` prefix of a
// request frame.
type RequestHeader struct {
	Code    uint32
	Payload []byte
}

// ReadRequest reads one length-delimited request frame from r. The wire
// format carries no outer length for the request side; transports are
// expected to delimit frames themselves (e.g. a length-prefixed TCP
// stream) and hand ReadRequest exactly one frame's bytes. ReadRequestFramed
// is provided for transports that need ledgerstream to do the delimiting.
func ReadRequest(b []byte) (RequestHeader, error) {
	if len(b) < 4 {
		return RequestHeader{}, fmt.Errorf("%w: request shorter than code prefix", ErrInvalidCommand)
	}
	return RequestHeader{Code: readUint32(b[:4]), Payload: b[4:]}, nil
}

// ReadRequestFramed reads a single `[u32 frame_length LE][u32 code LE][payload]`
// frame from r, as used by the TCP entrypoint.
func ReadRequestFramed(r io.Reader) (RequestHeader, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RequestHeader{}, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length < 4 || int64(length) > MaxFramePayload {
		return RequestHeader{}, fmt.Errorf("%w: frame length %d out of bounds", ErrInvalidCommand, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return RequestHeader{}, err
	}
	return ReadRequest(body)
}

// Response is `[u32 status LE][u32 length LE][payload...]`, status 0 means
// OK and any other value is a wire.Kind.
type Response struct {
	Status  Kind
	Payload []byte
}

// OK builds a successful response carrying payload.
func OK(payload []byte) Response {
	return Response{Status: KindOK, Payload: payload}
}

// FromError builds a failure response from err, rendering no payload body
// beyond the status code — clients key error handling off Status.
func FromError(err error) Response {
	return Response{Status: KindOf(err)}
}

// WriteTo serializes the response frame, including the outer length prefix,
// to w.
func (resp Response) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, 8+len(resp.Payload))
	buf = appendUint32(buf, uint32(resp.Status))
	buf = appendUint32(buf, uint32(len(resp.Payload)))
	buf = append(buf, resp.Payload...)
	n, err := w.Write(buf)
	return int64(n), err
}
