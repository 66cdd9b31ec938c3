// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package group

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebalanceTwoMembersFourPartitions(t *testing.T) {
	g := New(1, "g")
	g.Join(100, 4) // client A
	g.Join(200, 4) // client B

	require.Equal(t, []uint32{0, 1}, g.AssignedPartitions(100))
	require.Equal(t, []uint32{2, 3}, g.AssignedPartitions(200))

	g.Leave(200, 4)
	require.Equal(t, []uint32{0, 1, 2, 3}, g.AssignedPartitions(100))
}

func TestRebalanceCountsDifferByAtMostOne(t *testing.T) {
	cases := []struct {
		partitions uint32
		members    int
	}{
		{4, 2}, {5, 2}, {7, 3}, {1, 3}, {12, 5}, {3, 1},
	}
	for _, tc := range cases {
		g := New(1, "g")
		for m := 0; m < tc.members; m++ {
			g.Join(uint32(m+1), tc.partitions)
		}

		counts := make(map[uint32]int)
		owners := 0
		for p := uint32(0); p < tc.partitions; p++ {
			owner, ok := g.Owner(p)
			require.True(t, ok, "partition %d unassigned with %d members", p, tc.members)
			counts[owner]++
			owners++
		}
		require.Equal(t, int(tc.partitions), owners)

		min, max := int(tc.partitions), 0
		for _, m := range g.Members() {
			c := counts[m]
			if c < min {
				min = c
			}
			if c > max {
				max = c
			}
		}
		require.LessOrEqual(t, max-min, 1)
	}
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	g := New(1, "g")
	g.Join(1, 2)
	g.Join(1, 2)
	require.Equal(t, 1, g.MembersCount())
	require.Equal(t, []uint32{0, 1}, g.AssignedPartitions(1))

	g.Leave(42, 2)
	require.Equal(t, 1, g.MembersCount())

	g.Leave(1, 2)
	g.Leave(1, 2)
	require.Equal(t, 0, g.MembersCount())
}

func TestNoMembersClearsAssignment(t *testing.T) {
	g := New(1, "g")
	g.Join(1, 3)
	g.Leave(1, 3)

	for p := uint32(0); p < 3; p++ {
		_, ok := g.Owner(p)
		require.False(t, ok)
	}
	_, ok := g.NextPartition(1)
	require.False(t, ok)
}

func TestNextPartitionRotatesAcrossOwned(t *testing.T) {
	g := New(1, "g")
	g.Join(7, 4) // sole member owns all four partitions

	var seen []uint32
	for i := 0; i < 8; i++ {
		p, ok := g.NextPartition(7)
		require.True(t, ok)
		seen = append(seen, p)
	}
	require.Equal(t, []uint32{0, 1, 2, 3, 0, 1, 2, 3}, seen)
}

func TestOwnedBy(t *testing.T) {
	g := New(1, "g")
	g.Join(100, 4)
	g.Join(200, 4)

	require.True(t, g.OwnedBy(0, 100))
	require.True(t, g.OwnedBy(3, 200))
	require.False(t, g.OwnedBy(3, 100))
	require.False(t, g.OwnedBy(9, 100))
}
