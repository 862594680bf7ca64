// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
)

var (
	queriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lmcrecd_queries_total",
		Help: "Total number of /api/v1/query requests served.",
	})
	queryScansHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lmcrecd_query_scans",
		Help:    "Number of COMPLETE scans driven per query request.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lmcrecd_query_duration_seconds",
		Help:    "Wall-clock time spent driving a query request to completion.",
		Buckets: prometheus.DefBuckets,
	})
	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lmcrecd_build_info",
		Help: "Build metadata for the running lmcrecd binary.",
	}, []string{"version", "revision"})
)

func init() {
	prometheus.MustRegister(queriesTotal, queryScansHistogram, queryDuration, buildInfo)
	buildInfo.WithLabelValues(version.Version, version.Revision).Set(1)
}

func observeQuery(scans int, elapsed time.Duration) {
	queriesTotal.Inc()
	queryScansHistogram.Observe(float64(scans))
	queryDuration.Observe(elapsed.Seconds())
}
