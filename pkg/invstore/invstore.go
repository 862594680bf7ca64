// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package invstore persists the inventory sweep (§4.9, pkg/lmcrec's C9) to a
// single SQLite table, so a restart or a second process can load a recent
// inventory snapshot without re-sweeping a long chain from scratch (§12.3).
package invstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcrec"
	"github.com/ClusterCockpit/lmcrec/pkg/log"
)

var taglog = log.Component("INVSTORE")

const schema = `
CREATE TABLE IF NOT EXISTS inventory_snapshot (
	root         TEXT PRIMARY KEY,
	payload      BLOB NOT NULL,
	inst_max_size INTEGER NOT NULL,
	first_ts     REAL NOT NULL,
	last_ts      REAL NOT NULL,
	updated_unix INTEGER NOT NULL
);`

var (
	registerOnce sync.Once
	driverName   = "sqlite3WithHooks"
)

// sqlHooks times every query through pkg/log, the same shape as the
// teacher's repository.Hooks (internal/repository/hooks.go), generalized
// from the request-scoped context key it used (a raw string) to a typed one.
type sqlHooks struct{}

type hookCtxKey struct{}

func (h *sqlHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, hookCtxKey{}, time.Now()), nil
}

func (h *sqlHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookCtxKey{}).(time.Time); ok {
		taglog.Debugf("query %q took %s", query, time.Since(begin))
	}
	return ctx, nil
}

// Snapshot is the persisted shape of one inventory sweep, keyed by the
// record-root string passed to Save/Load (used as given, not made absolute).
type Snapshot struct {
	InstTree     lmcrec.InstTree
	ClassVarInfo lmcrec.ClassVarInfo
	InstMaxSize  int
	FirstTs      float64
	LastTs       float64
	UpdatedAt    time.Time
}

// wireSnapshot is Snapshot's JSON-serializable form: lmcrec.InstTree uses
// struct keys (ParentKey, InstRef), which encoding/json cannot use as map
// keys directly, so the payload is flattened to slices.
type wireSnapshot struct {
	Edges       []wireEdge           `json:"edges"`
	ClassVars   map[string][]wireVar `json:"class_vars"`
	InstMaxSize int                  `json:"inst_max_size"`
}

type wireEdge struct {
	ParentIsRoot    bool   `json:"parent_is_root"`
	ParentName      string `json:"parent_name,omitempty"`
	ParentClassName string `json:"parent_class_name,omitempty"`
	ChildName       string `json:"child_name"`
	ChildClassName  string `json:"child_class_name"`
}

type wireVar struct {
	Name    string `json:"name"`
	VarID   uint64 `json:"var_id"`
	VarType int    `json:"var_type"`
	NegVals bool   `json:"neg_vals"`
	MaxSize int    `json:"max_size"`
}

func toWire(instTree lmcrec.InstTree, classVarInfo lmcrec.ClassVarInfo, instMaxSize int) wireSnapshot {
	w := wireSnapshot{ClassVars: make(map[string][]wireVar), InstMaxSize: instMaxSize}
	for parent, children := range instTree {
		for child := range children {
			w.Edges = append(w.Edges, wireEdge{
				ParentIsRoot:    parent.IsRoot,
				ParentName:      parent.Name,
				ParentClassName: parent.ClassName,
				ChildName:       child.Name,
				ChildClassName:  child.ClassName,
			})
		}
	}
	for className, vars := range classVarInfo {
		list := make([]wireVar, 0, len(vars))
		for name, info := range vars {
			list = append(list, wireVar{
				Name: name, VarID: info.VarID, VarType: int(info.VarType), NegVals: info.NegVals, MaxSize: info.MaxSize,
			})
		}
		w.ClassVars[className] = list
	}
	return w
}

func fromWire(w wireSnapshot) (lmcrec.InstTree, lmcrec.ClassVarInfo) {
	instTree := make(lmcrec.InstTree)
	for _, e := range w.Edges {
		parent := lmcrec.ParentKey{IsRoot: e.ParentIsRoot, Name: e.ParentName, ClassName: e.ParentClassName}
		child := lmcrec.InstRef{Name: e.ChildName, ClassName: e.ChildClassName}
		set, ok := instTree[parent]
		if !ok {
			set = make(map[lmcrec.InstRef]struct{})
			instTree[parent] = set
		}
		set[child] = struct{}{}
	}

	classVarInfo := make(lmcrec.ClassVarInfo)
	for className, list := range w.ClassVars {
		vars := make(map[string]*lmcrec.VarInfo, len(list))
		for _, v := range list {
			vars[v.Name] = &lmcrec.VarInfo{
				Name: v.Name, VarID: v.VarID, VarType: lmcrec.VarType(v.VarType), NegVals: v.NegVals, MaxSize: v.MaxSize,
			}
		}
		classVarInfo[className] = vars
	}
	return instTree, classVarInfo
}

// Store wraps a sqlite connection holding the inventory_snapshot table. Like
// the teacher's repository package, only one open connection is used:
// sqlite3 does not benefit from a connection pool and serializes writers
// internally regardless.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the sqlite database at path and ensures
// the inventory_snapshot table exists.
func Open(path string) (*Store, error) {
	registerOnce.Do(func() {
		sql.Register(driverName, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &sqlHooks{}))
	})

	db, err := sqlx.Open(driverName, fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("invstore: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("invstore: creating schema: %w", err)
	}

	taglog.Infof("opened inventory store at %s", path)
	return &Store{db: db}, nil
}

// Save upserts the snapshot for root.
func (s *Store) Save(root string, snap Snapshot) error {
	w := toWire(snap.InstTree, snap.ClassVarInfo, snap.InstMaxSize)
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("invstore: marshaling snapshot for %s: %w", root, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO inventory_snapshot (root, payload, inst_max_size, first_ts, last_ts, updated_unix)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
			payload=excluded.payload, inst_max_size=excluded.inst_max_size,
			first_ts=excluded.first_ts, last_ts=excluded.last_ts, updated_unix=excluded.updated_unix`,
		root, payload, snap.InstMaxSize, snap.FirstTs, snap.LastTs, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("invstore: saving snapshot for %s: %w", root, err)
	}
	return nil
}

// Load returns the most recently saved snapshot for root, or ok=false if
// none exists.
func (s *Store) Load(root string) (snap Snapshot, ok bool, err error) {
	row := s.db.QueryRowx(`SELECT payload, inst_max_size, first_ts, last_ts, updated_unix
		FROM inventory_snapshot WHERE root = ?`, root)

	var payload []byte
	var updatedUnix int64
	if scanErr := row.Scan(&payload, &snap.InstMaxSize, &snap.FirstTs, &snap.LastTs, &updatedUnix); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("invstore: loading snapshot for %s: %w", root, scanErr)
	}

	var w wireSnapshot
	if err := json.Unmarshal(payload, &w); err != nil {
		return Snapshot{}, false, fmt.Errorf("invstore: decoding snapshot for %s: %w", root, err)
	}
	snap.InstTree, snap.ClassVarInfo = fromWire(w)
	snap.UpdatedAt = time.Unix(updatedUnix, 0)
	return snap, true, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
