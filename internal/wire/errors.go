// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import (
	"errors"
	"fmt"
)

// Kind is the stable, numeric error status carried in a response frame.
// The values themselves are wire-visible and must never be renumbered once
// shipped, mirroring the command code table.
type Kind uint32

const (
	KindOK Kind = 0

	KindInvalidCommand Kind = iota + 99
	KindInvalidFormat
	KindUnauthenticated
	KindUnauthorized
	KindPermissionDenied
	KindStreamIDNotFound
	KindStreamNameAlreadyExists
	KindTopicIDNotFound
	KindPartitionNotFound
	KindNoPartitions
	KindInvalidMessagesCount
	KindInvalidOffset
	KindInvalidPartitioning
	KindCannotReadFile
	KindCannotReadFileMetadata
	KindCannotWriteToFile
	KindCannotCreateDirectory
	KindCannotRemoveRuntimeDirectory
	KindCannotEncryptData
	KindCannotDecryptData
	KindFileCorrupted
)

var kindNames = map[Kind]string{
	KindOK:                           "ok",
	KindInvalidCommand:               "invalid_command",
	KindInvalidFormat:                "invalid_format",
	KindUnauthenticated:              "unauthenticated",
	KindUnauthorized:                 "unauthorized",
	KindPermissionDenied:             "permission_denied",
	KindStreamIDNotFound:             "stream_id_not_found",
	KindStreamNameAlreadyExists:      "stream_name_already_exists",
	KindTopicIDNotFound:              "topic_id_not_found",
	KindPartitionNotFound:            "partition_not_found",
	KindNoPartitions:                 "no_partitions",
	KindInvalidMessagesCount:         "invalid_messages_count",
	KindInvalidOffset:                "invalid_offset",
	KindInvalidPartitioning:          "invalid_partitioning",
	KindCannotReadFile:               "cannot_read_file",
	KindCannotReadFileMetadata:       "cannot_read_file_metadata",
	KindCannotWriteToFile:            "cannot_write_to_file",
	KindCannotCreateDirectory:        "cannot_create_directory",
	KindCannotRemoveRuntimeDirectory: "cannot_remove_runtime_directory",
	KindCannotEncryptData:            "cannot_encrypt_data",
	KindCannotDecryptData:            "cannot_decrypt_data",
	KindFileCorrupted:                "file_corrupted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Error is the error type returned by every broker operation that can fail
// in a way the client needs to see reflected in the response status.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is makes errors.Is(err, ErrXxx) work against the sentinel instances below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newErr(k Kind) *Error { return &Error{Kind: k} }

// Sentinels for errors.Is comparisons; Wrap attaches a message to one of
// these kinds without losing errors.Is compatibility.
var (
	ErrInvalidCommand          = newErr(KindInvalidCommand)
	ErrInvalidFormat           = newErr(KindInvalidFormat)
	ErrUnauthenticated         = newErr(KindUnauthenticated)
	ErrUnauthorized            = newErr(KindUnauthorized)
	ErrPermissionDenied        = newErr(KindPermissionDenied)
	ErrStreamIDNotFound        = newErr(KindStreamIDNotFound)
	ErrStreamNameAlreadyExists = newErr(KindStreamNameAlreadyExists)
	ErrTopicIDNotFound         = newErr(KindTopicIDNotFound)
	ErrPartitionNotFound       = newErr(KindPartitionNotFound)
	ErrNoPartitions            = newErr(KindNoPartitions)
	ErrInvalidMessagesCount    = newErr(KindInvalidMessagesCount)
	ErrInvalidOffset           = newErr(KindInvalidOffset)
	ErrInvalidPartitioning     = newErr(KindInvalidPartitioning)
	ErrCannotReadFile          = newErr(KindCannotReadFile)
	ErrCannotReadFileMetadata  = newErr(KindCannotReadFileMetadata)
	ErrCannotWriteToFile       = newErr(KindCannotWriteToFile)
	ErrCannotCreateDirectory   = newErr(KindCannotCreateDirectory)
	ErrCannotEncryptData       = newErr(KindCannotEncryptData)
	ErrCannotDecryptData       = newErr(KindCannotDecryptData)
	ErrFileCorrupted           = newErr(KindFileCorrupted)
)

// Wrap returns a new *Error of the given kind carrying msg, still matching
// the corresponding sentinel through errors.Is.
func Wrap(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// KindOf extracts the wire Kind from err, defaulting to an opaque internal
// failure (reported as InvalidFormat, since the client has no better bucket
// for an unclassified server error) when err is not a *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInvalidFormat
}
