// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcconf"
)

func TestRateLimitMiddlewareRejectsBeyondBurst(t *testing.T) {
	prevPerSec, prevBurst := lmcconf.Keys.Http.RateLimitPerSec, lmcconf.Keys.Http.RateLimitBurst
	lmcconf.Keys.Http.RateLimitPerSec = 1
	lmcconf.Keys.Http.RateLimitBurst = 1
	defer func() {
		lmcconf.Keys.Http.RateLimitPerSec = prevPerSec
		lmcconf.Keys.Http.RateLimitBurst = prevBurst
	}()

	clientLimitersMu.Lock()
	clientLimiters = make(map[string]*rate.Limiter)
	clientLimitersMu.Unlock()

	handler := RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rw := httptest.NewRecorder()
		handler.ServeHTTP(rw, req)
		return rw.Code
	}

	require.Equal(t, http.StatusOK, do())
	require.Equal(t, http.StatusTooManyRequests, do())
}
