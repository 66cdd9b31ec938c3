// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metricsserver mounts the broker's observability HTTP surface:
// Prometheus metrics and a health probe. It is strictly an ops endpoint;
// the broker's own control surface is the binary wire protocol.
package metricsserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health is the callback the /healthz probe consults.
type Health func() error

// New builds the HTTP server serving /metrics and /healthz on addr.
func New(addr string, registry *prometheus.Registry, health Health) *http.Server {
	if err := registry.Register(version.NewCollector("ledgerstream")); err != nil {
		cclog.Debugf("[METRICS]> version collector: %v", err)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Add("Content-Type", "application/json")
		if health != nil {
			if err := health(); err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(rw).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	handler := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		cclog.Debugf("[METRICS]> %s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	return &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         addr,
	}
}
