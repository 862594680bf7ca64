// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcconf"
)

// clientLimiters holds one token bucket per client IP, created lazily on
// first request and never evicted: a query endpoint sees a small, mostly
// stable set of internal clients, not public internet traffic.
var (
	clientLimitersMu sync.Mutex
	clientLimiters   = make(map[string]*rate.Limiter)
)

func limiterFor(clientIP string) *rate.Limiter {
	clientLimitersMu.Lock()
	defer clientLimitersMu.Unlock()

	if l, ok := clientLimiters[clientIP]; ok {
		return l
	}

	rps := lmcconf.Keys.Http.RateLimitPerSec
	if rps <= 0 {
		rps = 50
	}
	burst := lmcconf.Keys.Http.RateLimitBurst
	if burst <= 0 {
		burst = int(rps)
	}

	l := rate.NewLimiter(rate.Limit(rps), burst)
	clientLimiters[clientIP] = l
	return l
}

// RateLimitMiddleware applies a per-client-IP token bucket, configured via
// lmcconf.Keys.Http (§12.5).
func RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		if !limiterFor(host).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
