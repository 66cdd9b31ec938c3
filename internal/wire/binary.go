// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import "encoding/binary"

// Little-endian primitive helpers, grounded on the manual Encode/Decode
// style used by Kafka-protocol wire types in the example pack rather than
// reflection-based codecs: every field position is explicit and fixed.

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint128(buf []byte, hi, lo uint64) []byte {
	buf = appendUint64(buf, lo)
	buf = appendUint64(buf, hi)
	return buf
}

func readUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func readUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
