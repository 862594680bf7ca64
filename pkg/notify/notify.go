// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package notify optionally publishes one message per COMPLETE scan to a
// NATS subject, so external subscribers can observe chain/instance
// churn without polling the interval cache themselves (§12.2). It has no
// bearing on the correctness of pkg/lmcrec: a Publisher is a pass-through
// observer wrapped around an *lmcrec.IntervalStateCache's ApplyNextScan loop.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcrec"
	"github.com/ClusterCockpit/lmcrec/pkg/log"
)

var taglog = log.Component("NOTIFY")

// ScanEvent is the JSON payload published after every COMPLETE scan.
type ScanEvent struct {
	Chain       int     `json:"chain"`
	Ts          float64 `json:"ts"`
	NewChain    bool    `json:"new_chain"`
	NewInst     bool    `json:"new_inst"`
	DeletedInst bool    `json:"deleted_inst"`
	ScanTally   int     `json:"scan_tally"`
}

// Config configures a Publisher's NATS connection.
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
	Subject       string
}

// Publisher wraps a NATS connection with the one subject this package
// publishes to, mirroring the teacher's Client but trimmed to the
// publish-only surface this use case needs (no Subscribe* methods: nothing
// in this system consumes scan events itself).
type Publisher struct {
	conn    *nats.Conn
	subject string
	chain   int
}

// Connect dials address (and, if provided, authenticates) and returns a
// Publisher bound to subject. A nil Publisher with a nil error is never
// returned: callers that want notification to be optional should check
// cfg.Address == "" themselves before calling Connect, the same way the
// teacher's nats.Connect treats an empty address as "skip connecting".
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("notify: empty NATS address")
	}
	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			taglog.Warnf("disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		taglog.Infof("reconnected to %s", nc.ConnectedUrl())
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: connecting to %s: %w", cfg.Address, err)
	}

	taglog.Infof("connected to %s, publishing on %q", cfg.Address, cfg.Subject)
	return &Publisher{conn: nc, subject: cfg.Subject}, nil
}

// PublishScan marshals and publishes one ScanEvent derived from ic's current
// per-scan flags. newChain should be the value IntervalStateCache.NewChain
// had on the scan that just completed (callers read it before the next
// ApplyNextScan call resets it).
func (p *Publisher) PublishScan(ic *lmcrec.IntervalStateCache, newChain bool) error {
	if newChain {
		p.chain++
	}
	evt := ScanEvent{
		Chain:       p.chain,
		Ts:          ic.Ts,
		NewChain:    newChain,
		NewInst:     ic.NewInst,
		DeletedInst: ic.DeletedInst,
		ScanTally:   ic.NumScans,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshaling scan event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("notify: publishing to %q: %w", p.subject, err)
	}
	return nil
}

// Close flushes and closes the underlying NATS connection.
func (p *Publisher) Close() {
	p.conn.Flush()
	p.conn.Close()
}
