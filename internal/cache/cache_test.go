// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionCacheLookup(t *testing.T) {
	tracker := NewMemoryTracker(1 << 20)
	c := NewPartitionCache(tracker)

	c.Insert(&Slot{BaseOffset: 0, LastOffset: 9, Bytes: make([]byte, 100)})
	c.Insert(&Slot{BaseOffset: 10, LastOffset: 19, Bytes: make([]byte, 100)})

	slots, complete := c.Lookup(0, 19)
	require.True(t, complete)
	require.Len(t, slots, 2)
	require.Equal(t, uint64(0), slots[0].BaseOffset)
	require.Equal(t, uint64(10), slots[1].BaseOffset)
	require.Equal(t, uint64(200), c.CurrentSize())
	require.Equal(t, uint64(200), tracker.UsageBytes())
}

func TestPartitionCacheMissFallsThrough(t *testing.T) {
	tracker := NewMemoryTracker(1 << 20)
	c := NewPartitionCache(tracker)
	c.Insert(&Slot{BaseOffset: 10, LastOffset: 19, Bytes: make([]byte, 10)})

	_, complete := c.Lookup(0, 5)
	require.False(t, complete)
}

func TestEvictBySizeRemovesOldest(t *testing.T) {
	tracker := NewMemoryTracker(1 << 20)
	c := NewPartitionCache(tracker)
	c.Insert(&Slot{BaseOffset: 0, LastOffset: 9, Bytes: make([]byte, 100)})
	c.Insert(&Slot{BaseOffset: 10, LastOffset: 19, Bytes: make([]byte, 100)})

	c.EvictBySize(100)

	require.Equal(t, uint64(100), c.CurrentSize())
	slots, _ := c.Lookup(10, 19)
	require.Len(t, slots, 1)
	require.Equal(t, uint64(100), tracker.UsageBytes())
}

func TestSizeToRemoveAppliesOverEvictionFactor(t *testing.T) {
	got := SizeToRemove(50, 100, 10)
	require.Equal(t, uint64(5*OverEvictionFactor), got)
}
