// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package group implements the consumer-group coordinator: member
// bookkeeping in join order and the partition assignment that keeps every
// partition owned by at most one live member.
package group

import (
	"slices"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ConsumerGroup tracks the members of one topic's group and which
// partition each member currently owns. All methods are safe for
// concurrent use.
type ConsumerGroup struct {
	ID   uint32
	Name string

	mu         sync.RWMutex
	members    []uint32          // client IDs in join order
	assignment map[uint32]uint32 // partition ID -> member client ID
	cursors    map[uint32]uint32 // member client ID -> poll rotation cursor
}

// New returns an empty group.
func New(id uint32, name string) *ConsumerGroup {
	return &ConsumerGroup{
		ID:         id,
		Name:       name,
		assignment: make(map[uint32]uint32),
		cursors:    make(map[uint32]uint32),
	}
}

// Join adds member and rebalances over partitionCount partitions.
// Idempotent: joining twice leaves membership and assignment unchanged.
func (g *ConsumerGroup) Join(member uint32, partitionCount uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if m == member {
			return
		}
	}
	g.members = append(g.members, member)
	g.rebalance(partitionCount)
	cclog.Debugf("[GROUP]> client %d joined group %d, %d members", member, g.ID, len(g.members))
}

// Leave removes member and rebalances its partitions over the remaining
// members. Idempotent: leaving a group one is not in is a no-op.
func (g *ConsumerGroup) Leave(member uint32, partitionCount uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := -1
	for i, m := range g.members {
		if m == member {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	g.members = append(g.members[:idx], g.members[idx+1:]...)
	delete(g.cursors, member)
	g.rebalance(partitionCount)
	cclog.Debugf("[GROUP]> client %d left group %d, %d members", member, g.ID, len(g.members))
}

// Rebalance recomputes the assignment over a new partition count, e.g.
// after partitions are added to or removed from the topic.
func (g *ConsumerGroup) Rebalance(partitionCount uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebalance(partitionCount)
}

// rebalance assigns partitions in ascending order to members in join
// order, each member taking the next ceil(P/M) or floor(P/M) partitions so
// counts differ by at most one. Caller holds the write lock.
func (g *ConsumerGroup) rebalance(partitionCount uint32) {
	g.assignment = make(map[uint32]uint32, partitionCount)
	m := uint32(len(g.members))
	if m == 0 || partitionCount == 0 {
		return
	}

	base := partitionCount / m
	extra := partitionCount % m
	var next uint32
	for i, member := range g.members {
		take := base
		if uint32(i) < extra {
			take++
		}
		for j := uint32(0); j < take; j++ {
			g.assignment[next] = member
			next++
		}
	}
}

// AssignedPartitions returns the partitions member currently owns, in
// ascending order of partition ID.
func (g *ConsumerGroup) AssignedPartitions(member uint32) []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var owned []uint32
	for p, m := range g.assignment {
		if m == member {
			owned = append(owned, p)
		}
	}
	slices.Sort(owned)
	return owned
}

// NextPartition resolves the partition a polling member should read when
// it did not name one: members owning several partitions rotate round-robin
// across everything they own, so every owned partition is drained over
// successive polls. ok is false when the member owns nothing.
func (g *ConsumerGroup) NextPartition(member uint32) (uint32, bool) {
	owned := g.AssignedPartitions(member)
	if len(owned) == 0 {
		return 0, false
	}
	g.mu.Lock()
	idx := g.cursors[member]
	g.cursors[member] = idx + 1
	g.mu.Unlock()
	return owned[idx%uint32(len(owned))], true
}

// OwnedBy reports whether the member currently owns the partition.
func (g *ConsumerGroup) OwnedBy(partition, member uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.assignment[partition]
	return ok && m == member
}

// Owner returns the member owning partition, if any.
func (g *ConsumerGroup) Owner(partition uint32) (uint32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.assignment[partition]
	return m, ok
}

// Members returns the member client IDs in join order.
func (g *ConsumerGroup) Members() []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]uint32(nil), g.members...)
}

// MembersCount returns the current member count.
func (g *ConsumerGroup) MembersCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// HasMember reports whether the client is currently a member.
func (g *ConsumerGroup) HasMember(member uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.members {
		if m == member {
			return true
		}
	}
	return false
}
