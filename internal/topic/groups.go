// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package topic

import (
	"fmt"
	"sort"

	"github.com/ledgerstream/ledgerstream/internal/group"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Group assignment works over 0-based partition slots; slot i maps to
// partition ID i+1 on the topic.

// CreateGroup registers a new consumer group on the topic.
func (t *Topic) CreateGroup(id uint32, name string) (*group.ConsumerGroup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.groups[id]; ok {
		return nil, wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("consumer group %d already exists on topic %d", id, t.ID))
	}
	for _, e := range t.groups {
		if e.group.Name == name {
			return nil, wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("consumer group %q already exists on topic %d", name, t.ID))
		}
	}
	g := group.New(id, name)
	t.groups[id] = &groupEntry{group: g}
	return g, nil
}

// DeleteGroup removes the group.
func (t *Topic) DeleteGroup(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.groups[id]; !ok {
		return wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("consumer group %d not found on topic %d", id, t.ID))
	}
	delete(t.groups, id)
	return nil
}

// Group returns the group with the given ID.
func (t *Topic) Group(id uint32) (*group.ConsumerGroup, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.groups[id]
	if !ok {
		return nil, wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("consumer group %d not found on topic %d", id, t.ID))
	}
	return e.group, nil
}

// Groups lists the topic's groups in ID order.
func (t *Topic) Groups() []*group.ConsumerGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*group.ConsumerGroup, 0, len(t.groups))
	for _, e := range t.groups {
		out = append(out, e.group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// JoinGroup adds the client to the group and rebalances. Idempotent.
func (t *Topic) JoinGroup(groupID, clientID uint32) error {
	g, err := t.Group(groupID)
	if err != nil {
		return err
	}
	g.Join(clientID, t.PartitionsCount())
	return nil
}

// LeaveGroup removes the client from the group and rebalances. Idempotent.
func (t *Topic) LeaveGroup(groupID, clientID uint32) error {
	g, err := t.Group(groupID)
	if err != nil {
		return err
	}
	g.Leave(clientID, t.PartitionsCount())
	return nil
}

// LeaveAllGroups cascades a disconnecting client out of every group it
// joined on this topic.
func (t *Topic) LeaveAllGroups(clientID uint32) {
	for _, g := range t.Groups() {
		if g.HasMember(clientID) {
			g.Leave(clientID, t.PartitionsCount())
		}
	}
}

// rebalanceAllLocked re-runs every group's assignment after the partition
// count changed. Caller holds the write lock.
func (t *Topic) rebalanceAllLocked() {
	count := uint32(len(t.partitions))
	for _, e := range t.groups {
		e.group.Rebalance(count)
	}
}

// PollIdentity names who is polling: a direct consumer or a group member.
type PollIdentity struct {
	GroupID  uint32 // zero for a direct consumer
	ClientID uint32
}

// Poll resolves the (consumer, partition) pair and reads from the chosen
// partition. For a direct consumer, partitionID is required unless the
// topic has exactly one partition. A group member may name a partition it
// owns (unknown partitions error, partitions owned by another member come
// back empty — only the owner ever sees a partition's messages); with no
// partition named, successive polls rotate round-robin across everything
// the member owns. A member with no assigned partition gets an empty
// result with PartitionID zero, not an error.
func (t *Topic) Poll(identity PollIdentity, partitionID uint32, strategy wire.PollingStrategy, count uint32) (partition.PolledMessages, error) {
	if identity.GroupID != 0 {
		g, err := t.Group(identity.GroupID)
		if err != nil {
			return partition.PolledMessages{}, err
		}
		var slot uint32
		if partitionID != 0 {
			if _, err := t.Partition(partitionID); err != nil {
				return partition.PolledMessages{}, err
			}
			if !g.OwnedBy(partitionID-1, identity.ClientID) {
				return partition.PolledMessages{}, nil
			}
			slot = partitionID - 1
		} else {
			s, ok := g.NextPartition(identity.ClientID)
			if !ok {
				return partition.PolledMessages{}, nil
			}
			slot = s
		}
		p, err := t.Partition(slot + 1)
		if err != nil {
			return partition.PolledMessages{}, err
		}
		consumer := partition.Consumer{Kind: partition.ConsumerGroupMember, ID: identity.GroupID, MemberID: identity.ClientID}
		return p.Poll(consumer, strategy, count)
	}

	if partitionID == 0 {
		ids := t.PartitionIDs()
		if len(ids) != 1 {
			return partition.PolledMessages{}, wire.Wrap(wire.KindPartitionNotFound, "partition id required for a multi-partition topic")
		}
		partitionID = ids[0]
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return partition.PolledMessages{}, err
	}
	return p.Poll(partition.Consumer{Kind: partition.ConsumerDirect, ID: identity.ClientID}, strategy, count)
}
