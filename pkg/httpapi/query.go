// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi exposes the query-selector engine (§4.8) over HTTP: a
// client posts a declarative selector document plus an optional time window
// and gets back the projected per-class rows observed while driving the
// planned file chain to completion (§12.5).
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcconf"
	"github.com/ClusterCockpit/lmcrec/pkg/lmcrec"
	"github.com/ClusterCockpit/lmcrec/pkg/log"
)

var taglog = log.Component("HTTPAPI")

// Sentinel errors surfaced as 4xx, mirroring the teacher's
// pkg/metricstore/api.go ErrInvalidTimeRange/ErrEmptyCluster pattern.
var (
	ErrMissingSelector  = errors.New("httpapi: selector is required")
	ErrInvalidTimeRange = errors.New("httpapi: to must not be before from")
)

// defaultMaxScans bounds a single request's scan loop so a pathologically
// long or still-growing chain can't hold a request open forever; callers
// that want the whole interval regardless should page using the returned
// cursor's LastTs as the next request's From.
const defaultMaxScans = 100_000

// ScanNotifier, if set by cmd/lmcrecd, is called once per COMPLETE scan
// driven by RunQuery — the hook point for the optional NATS scan-event
// publisher (§12.2). newChain reflects ic.NewChain at the moment this scan
// completed, before the next ApplyNextScan call resets it.
var ScanNotifier func(ic *lmcrec.IntervalStateCache, newChain bool)

// QueryRequest is the POST body accepted by the query endpoint.
type QueryRequest struct {
	// Root overrides lmcconf.Keys.RecordRoot for this request, e.g. to query
	// a day-partition directory directly (§4.6).
	Root string `json:"root,omitempty"`

	// From/To are RFC3339 timestamps bounding the scan (§6.2); both optional.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Selector is the declarative selector document (§4.8), validated
	// against the bundled JSON Schema before being compiled.
	Selector map[string]interface{} `json:"selector"`

	// MaxScans caps how many COMPLETE scans this request will drive before
	// returning early; zero means defaultMaxScans.
	MaxScans int `json:"max_scans,omitempty"`
}

// QueryResponse is the projected result of driving the selector to
// completion (or to MaxScans/ToTs, whichever comes first).
type QueryResponse struct {
	Results     map[string]WireClassResult `json:"results"`
	ScansRun    int                        `json:"scans_run"`
	Complete    bool                       `json:"complete"`
	FirstTs     float64                    `json:"first_ts,omitempty"`
	LastTs      float64                    `json:"last_ts,omitempty"`
}

// WireClassResult is lmcrec.ClassResult's JSON-serializable form: lmcrec.Value
// is a tagged union with no MarshalJSON of its own (the core package has no
// encoding/json dependency), so httpapi flattens each Value to its native Go
// scalar at the boundary.
type WireClassResult struct {
	VarNames   []string                   `json:"var_names"`
	ValsByInst map[string][]interface{}   `json:"vals_by_inst"`
}

func valueToJSON(v lmcrec.Value) interface{} {
	switch v.Kind {
	case lmcrec.ValBool:
		return v.Bool
	case lmcrec.ValInt:
		return v.Int
	case lmcrec.ValString:
		return v.Str
	case lmcrec.ValFloat:
		return v.Float
	default:
		return nil
	}
}

func toWireResults(results map[string]*lmcrec.ClassResult) map[string]WireClassResult {
	out := make(map[string]WireClassResult, len(results))
	for className, res := range results {
		w := WireClassResult{VarNames: res.VarNames, ValsByInst: make(map[string][]interface{}, len(res.ValsByInst))}
		for inst, vals := range res.ValsByInst {
			row := make([]interface{}, len(vals))
			for i, v := range vals {
				row[i] = valueToJSON(v)
			}
			w.ValsByInst[inst] = row
		}
		out[className] = w
	}
	return out
}

// RunQuery validates req, compiles its selector, drives the planned chain
// under root and returns the accumulated projection. It does not touch
// net/http: the handler in router.go owns request decoding/response writing.
func RunQuery(req QueryRequest) (*QueryResponse, error) {
	if req.Selector == nil {
		return nil, ErrMissingSelector
	}

	raw, err := json.Marshal(req.Selector)
	if err != nil {
		return nil, fmt.Errorf("httpapi: re-marshaling selector: %w", err)
	}
	doc, err := lmcconf.ValidateSelectorDoc(raw)
	if err != nil {
		return nil, fmt.Errorf("httpapi: invalid selector: %w", err)
	}

	window := lmcconf.WindowConfig{From: req.From, To: req.To}
	fromTs, toTs, err := window.Resolve()
	if err != nil {
		return nil, err
	}
	if fromTs != nil && toTs != nil && *toTs < *fromTs {
		return nil, ErrInvalidTimeRange
	}

	root := req.Root
	if root == "" {
		root = lmcconf.Keys.RecordRoot
	}

	sel := lmcrec.NewSelector(doc)

	ic, err := lmcrec.NewIntervalStateCache(root, fromTs, toTs, sel.NeedsPrev)
	if err != nil {
		return nil, fmt.Errorf("httpapi: planning chain under %s: %w", root, err)
	}
	defer ic.Close()

	maxScans := req.MaxScans
	if maxScans <= 0 {
		maxScans = defaultMaxScans
	}

	resp := &QueryResponse{}
	var results map[string]*lmcrec.ClassResult

	for i := 0; i < maxScans; i++ {
		ret, err := ic.ApplyNextScan()
		if err != nil {
			return nil, fmt.Errorf("httpapi: scanning %s: %w", root, err)
		}
		if ret != lmcrec.Complete {
			// AtEor/Closed end the scan normally; AtEof (the tail file
			// ends at a scan boundary without an EOR) and Partial (it ends
			// inside a scan, e.g. a writer still has it open, §4.5) are
			// reported as an incomplete-but-valid result rather than an
			// error.
			resp.Complete = ret == lmcrec.AtEor || ret == lmcrec.Closed
			break
		}
		resp.ScansRun++
		results = sel.Run(ic)
		if ScanNotifier != nil {
			ScanNotifier(ic, ic.NewChain)
		}
	}

	resp.Results = toWireResults(results)
	resp.FirstTs = ic.FirstTs
	resp.LastTs = ic.LastTs
	return resp, nil
}

// HandleQuery is the http.HandlerFunc for POST /api/v1/query.
func HandleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decoding request body: %w", err))
		return
	}

	resp, err := RunQuery(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, lmcrec.ErrInvariant) || errors.Is(err, lmcrec.ErrFormat) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}

	observeQuery(resp.ScansRun, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		taglog.Errorf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
