// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache implements the per-partition batch cache and the
// process-wide memory tracker that bounds it, grounded on the pooled
// buffer-chain bookkeeping used by the retrieved metric-store singleton.
package cache

import "sync/atomic"

// MemoryTracker is process-wide shared state: an atomic byte budget and a
// running usage counter. All partitions in the process share one tracker
// so that a single global memory cap can be enforced.
type MemoryTracker struct {
	budget uint64
	usage  atomic.Uint64
}

// NewMemoryTracker returns a tracker capped at budgetBytes.
func NewMemoryTracker(budgetBytes uint64) *MemoryTracker {
	return &MemoryTracker{budget: budgetBytes}
}

// UsageBytes returns the current tracked usage.
func (m *MemoryTracker) UsageBytes() uint64 {
	return m.usage.Load()
}

// BudgetBytes returns the configured cap.
func (m *MemoryTracker) BudgetBytes() uint64 {
	return m.budget
}

// Add records n additional bytes as in use.
func (m *MemoryTracker) Add(n uint64) {
	m.usage.Add(n)
}

// Sub records n bytes as freed. Saturates at zero instead of wrapping, in
// case of a race between a late eviction callback and a tracker reset.
func (m *MemoryTracker) Sub(n uint64) {
	for {
		cur := m.usage.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if m.usage.CompareAndSwap(cur, next) {
			return
		}
	}
}

// WillExceed reports whether adding n bytes would push usage past budget.
func (m *MemoryTracker) WillExceed(n uint64) bool {
	return m.usage.Load()+n > m.budget
}

// OverEvictionFactor is how much harder than strictly necessary a cache
// eviction cycle removes, to avoid evicting on every single write. A
// package-level tunable rather than a constant so operators can adjust it
// without touching the eviction arithmetic.
var OverEvictionFactor uint64 = 5

// SizeToRemove computes, for one partition whose cache currently holds
// partitionSize bytes out of totalUsage tracked bytes process-wide, the
// number of bytes that partition should evict to fairly contribute to
// freeing sizeToClean bytes overall — then multiplies by the
// over-eviction factor.
func SizeToRemove(partitionSize, totalUsage, sizeToClean uint64) uint64 {
	if totalUsage == 0 {
		return 0
	}
	share := ceilDiv(partitionSize*sizeToClean, totalUsage)
	return share * OverEvictionFactor
}

func ceilDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den - 1) / den
}
