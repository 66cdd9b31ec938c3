// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"time"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
)

// Stats is the server-wide counter snapshot returned by get_stats and
// mirrored on the Prometheus endpoint.
type Stats struct {
	Uptime          time.Duration
	StreamsCount    uint32
	TopicsCount     uint32
	PartitionsCount uint32
	GroupsCount     uint32
	MessagesCount   uint64
	SizeBytes       uint64
	ClientsCount    uint32
	CacheUsage      uint64
	CacheBudget     uint64
}

// GetStats gathers the snapshot across all streams.
func (sys *System) GetStats(session *Session) (Stats, error) {
	if err := sys.ensurePermission(session, authstore.PermReadOnly); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Uptime:       time.Since(sys.startedAt),
		ClientsCount: uint32(sys.clients.Count()),
		CacheUsage:   sys.tracker.UsageBytes(),
		CacheBudget:  sys.tracker.BudgetBytes(),
	}
	for _, s := range sys.Streams() {
		stats.StreamsCount++
		for _, t := range s.Topics() {
			stats.TopicsCount++
			stats.PartitionsCount += t.PartitionsCount()
			stats.GroupsCount += uint32(len(t.Groups()))
			stats.MessagesCount += t.MessagesCount()
			stats.SizeBytes += t.SizeBytes()
		}
	}
	return stats, nil
}

// Metrics exposes the System's Prometheus registry for the HTTP surface.
func (sys *System) MetricsRegistry() *Metrics {
	return sys.metrics
}

// Clients exposes the connected-session registry for get_client(s) and
// the transport accept path.
func (sys *System) Clients() *ClientManager {
	return sys.clients
}
