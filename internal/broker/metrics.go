// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the broker's Prometheus collectors. Each System carries its
// own registry so tests can spin up several brokers in one process; the
// metrics HTTP server serves the registry of the running System.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesAppended prometheus.Counter
	MessagesPolled   prometheus.Counter
	CacheEvictions   prometheus.Counter
	Logins           prometheus.Counter
	CacheUsage       prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		MessagesAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstream",
			Name:      "messages_appended_total",
			Help:      "Messages appended across all partitions.",
		}),
		MessagesPolled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstream",
			Name:      "messages_polled_total",
			Help:      "Messages returned to consumers.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstream",
			Name:      "cache_evictions_total",
			Help:      "Partition cache eviction cycles run.",
		}),
		Logins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerstream",
			Name:      "logins_total",
			Help:      "Successful logins (password and token).",
		}),
		CacheUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgerstream",
			Name:      "cache_usage_bytes",
			Help:      "Bytes currently tracked by the partition cache memory tracker.",
		}),
	}
}
