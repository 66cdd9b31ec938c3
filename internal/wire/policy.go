// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

import "fmt"

// Confirmation selects the durability contract of an append: Wait acks
// after the write (and optional fsync) completes; NoWait acks after the
// batch is handed to the persister task's queue.
type Confirmation uint8

const (
	ConfirmationWait Confirmation = iota
	ConfirmationNoWait
)

func (c Confirmation) String() string {
	if c == ConfirmationNoWait {
		return "no_wait"
	}
	return "wait"
}

// PollingStrategyKind tags which starting-offset rule a poll uses.
type PollingStrategyKind uint8

const (
	PollOffset PollingStrategyKind = iota
	PollTimestamp
	PollFirst
	PollLast
	PollNext
)

// PollingStrategy picks the starting offset for a poll. Offset and
// Timestamp carry Value; Last carries Value as the count of trailing
// messages to return; First and Next take no argument.
type PollingStrategy struct {
	Kind  PollingStrategyKind
	Value uint64
}

// Partitioning selects, at append time, which partition a batch lands in.
type PartitioningKind uint8

const (
	PartitioningBalanced PartitioningKind = iota
	PartitioningPartitionID
	PartitioningMessagesKey
)

type Partitioning struct {
	Kind        PartitioningKind
	PartitionID uint32
	Key         []byte
}

func (p Partitioning) String() string {
	switch p.Kind {
	case PartitioningBalanced:
		return "balanced"
	case PartitioningPartitionID:
		return fmt.Sprintf("partition_id(%d)", p.PartitionID)
	case PartitioningMessagesKey:
		return fmt.Sprintf("messages_key(%d bytes)", len(p.Key))
	default:
		return "unknown"
	}
}
