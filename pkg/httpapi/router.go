// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ClusterCockpit/lmcrec/pkg/lrucache"
)

// cacheStatsMaxMemory bounds the /cache-stats response cache, not the
// underlying sidecar cache it is reporting on.
const cacheStatsMaxMemory = 64 * 1024

// NewRouter builds the full HTTP surface: the query endpoint, health check,
// Prometheus metrics, and a cached /cache-stats diagnostic page, wrapped in
// the same compress/recover/CORS/logging middleware stack the teacher's
// server.go assembles around its own router.
func NewRouter() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/query", HandleQuery).Methods(http.MethodPost)

	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	cacheStatsHandler := lrucache.NewMiddleware(cacheStatsMaxMemory, 5*time.Second)(http.HandlerFunc(cacheStatsPage))
	router.Handle("/cache-stats", cacheStatsHandler).Methods(http.MethodGet)

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))
	router.Use(RateLimitMiddleware)

	return handlers.CustomLoggingHandler(io.Discard, router, logFormatter)
}

func logFormatter(_ io.Writer, params handlers.LogFormatterParams) {
	if !strings.HasPrefix(params.Request.RequestURI, "/metrics") {
		taglog.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	}
}
