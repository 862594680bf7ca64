// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"net/http"
)

// SidecarCacheStats, populated by cmd/lmcrecd once it constructs its shared
// *lmcrec.SidecarCache, backs the /cache-stats diagnostic page. It's a
// package-level hook rather than a constructor argument so NewRouter can
// stay a zero-argument call the way the teacher's serverInit is.
var SidecarCacheStats func() map[string]int

func cacheStatsPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if SidecarCacheStats == nil {
		json.NewEncoder(w).Encode(map[string]int{})
		return
	}
	json.NewEncoder(w).Encode(SidecarCacheStats())
}
