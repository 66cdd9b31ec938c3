// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the binary framing shared by every producer,
// consumer and administrative client: identifiers, the command code table,
// request/response frames and the error-kind enum.
package wire

import (
	"fmt"
)

// IdentifierKind tags whether an Identifier carries a numeric ID or a name.
type IdentifierKind uint8

const (
	IdentifierNumeric IdentifierKind = 1
	IdentifierString  IdentifierKind = 2
)

// MaxIdentifierNameLength is the maximum length in bytes of a string identifier.
const MaxIdentifierNameLength = 255

// Identifier is a tagged value that is either a 32-bit numeric ID or a
// UTF-8 name no longer than MaxIdentifierNameLength bytes. Wire format is
// one byte of kind, one byte of length, then the raw bytes (4 for numeric,
// len(name) for string).
type Identifier struct {
	Kind    IdentifierKind
	Numeric uint32
	Name    string
}

// NumericID builds a numeric Identifier.
func NumericID(id uint32) Identifier {
	return Identifier{Kind: IdentifierNumeric, Numeric: id}
}

// NamedID builds a string Identifier.
func NamedID(name string) (Identifier, error) {
	if len(name) == 0 || len(name) > MaxIdentifierNameLength {
		return Identifier{}, fmt.Errorf("%w: identifier name length %d out of range", ErrInvalidFormat, len(name))
	}
	return Identifier{Kind: IdentifierString, Name: name}, nil
}

// Equal compares identifiers by kind then value, per the data model.
func (id Identifier) Equal(other Identifier) bool {
	if id.Kind != other.Kind {
		return false
	}
	if id.Kind == IdentifierNumeric {
		return id.Numeric == other.Numeric
	}
	return id.Name == other.Name
}

func (id Identifier) String() string {
	if id.Kind == IdentifierNumeric {
		return fmt.Sprintf("#%d", id.Numeric)
	}
	return id.Name
}

// AppendBytes writes the wire representation of id onto buf, returning the
// extended slice.
func (id Identifier) AppendBytes(buf []byte) []byte {
	switch id.Kind {
	case IdentifierNumeric:
		buf = append(buf, byte(IdentifierNumeric), 4)
		return appendUint32(buf, id.Numeric)
	case IdentifierString:
		buf = append(buf, byte(IdentifierString), byte(len(id.Name)))
		return append(buf, id.Name...)
	default:
		return buf
	}
}

// ReadIdentifier decodes an Identifier from the head of b, returning the
// identifier and the number of bytes consumed.
func ReadIdentifier(b []byte) (Identifier, int, error) {
	if len(b) < 2 {
		return Identifier{}, 0, fmt.Errorf("%w: identifier header truncated", ErrInvalidCommand)
	}
	kind := IdentifierKind(b[0])
	length := int(b[1])
	if len(b) < 2+length {
		return Identifier{}, 0, fmt.Errorf("%w: identifier body truncated", ErrInvalidCommand)
	}
	body := b[2 : 2+length]
	switch kind {
	case IdentifierNumeric:
		if length != 4 {
			return Identifier{}, 0, fmt.Errorf("%w: numeric identifier must be 4 bytes", ErrInvalidCommand)
		}
		return Identifier{Kind: IdentifierNumeric, Numeric: readUint32(body)}, 2 + length, nil
	case IdentifierString:
		return Identifier{Kind: IdentifierString, Name: string(body)}, 2 + length, nil
	default:
		return Identifier{}, 0, fmt.Errorf("%w: unknown identifier kind %d", ErrInvalidCommand, kind)
	}
}
