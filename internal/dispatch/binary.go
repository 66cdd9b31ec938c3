// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"encoding/binary"

	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// reader decodes little-endian payload fields with sticky error handling:
// the first underrun poisons the reader and every later read returns the
// zero value, so decoders stay linear instead of nesting bounds checks.
type reader struct {
	b   []byte
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) fail() {
	if r.err == nil {
		r.err = wire.Wrap(wire.KindInvalidCommand, "payload truncated")
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || len(r.b) < 1 {
		r.fail()
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil || len(r.b) < 2 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || len(r.b) < 4 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil || len(r.b) < 8 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || len(r.b) < n {
		r.fail()
		return nil
	}
	v := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return v
}

// str8 reads a u8 length-prefixed string.
func (r *reader) str8() string {
	n := int(r.u8())
	return string(r.bytes(n))
}

// str16 reads a u16 length-prefixed string.
func (r *reader) str16() string {
	n := int(r.u16())
	return string(r.bytes(n))
}

// str32 reads a u32 length-prefixed string.
func (r *reader) str32() string {
	n := int(r.u32())
	return string(r.bytes(n))
}

func (r *reader) identifier() wire.Identifier {
	if r.err != nil {
		return wire.Identifier{}
	}
	id, n, err := wire.ReadIdentifier(r.b)
	if err != nil {
		r.err = err
		return wire.Identifier{}
	}
	r.b = r.b[n:]
	return id
}

// writer accumulates a little-endian response payload.
type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *writer) str8(s string) {
	w.u8(uint8(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) str32(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}
