// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

// Package admin serves the health, metrics and session endpoints of the gateway.
package admin

import (
	"encoding/json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmware/stompgate/log"
	"github.com/vmware/stompgate/metrics"
	"io"
	"net/http"
)

// Sessions is the body of the /sessions endpoint.
type Sessions struct {
	Connections int `json:"connections"`
	LoggedIn    int `json:"loggedIn"`
	Heartbeats  int `json:"heartbeats"`
}

// NewRouter registers /health, /prometheus and /sessions.
func NewRouter(src metrics.SessionSource, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	// for use with container orchestration layers like k8s
	router.Path("/health").Name("health").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	router.Path("/prometheus").Name("prometheus").Methods(http.MethodGet).Handler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	router.Path("/sessions").Name("sessions").Methods(http.MethodGet).HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			sessions := Sessions{
				Connections: src.ConnectionCount(),
				LoggedIn:    src.Engine().Guard().LoggedInCount(),
				Heartbeats:  src.Engine().Pacer().ActiveCount(),
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(sessions); err != nil {
				log.Log.Errorf("unable to write sessions response: %v", err)
			}
		})

	return router
}

// NewHandler wraps the router with panic recovery and an access log written to accessLog.
func NewHandler(router *mux.Router, accessLog io.Writer) http.Handler {
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(accessLog, router))
}

// NewServer builds the admin HTTP server. Access logs go through the logger at info level.
func NewServer(addr string, src metrics.SessionSource, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: NewHandler(NewRouter(src, gatherer), log.Log.Writer()),
	}
}
