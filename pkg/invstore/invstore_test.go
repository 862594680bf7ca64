// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package invstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/lmcrec/pkg/lmcrec"
)

func TestSaveAndLoadRoundTripsInventory(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "inventory.db")
	store, err := Open(dbfile)
	require.NoError(t, err)
	defer store.Close()

	instTree := lmcrec.InstTree{
		{IsRoot: true}: {
			{Name: "node01", ClassName: "Node"}: {},
			{Name: "node02", ClassName: "Node"}: {},
		},
		{IsRoot: false, Name: "node01", ClassName: "Node"}: {
			{Name: "cpu0", ClassName: "CPU"}: {},
		},
	}
	classVarInfo := lmcrec.ClassVarInfo{
		"Node": {
			"temp": &lmcrec.VarInfo{Name: "temp", VarID: 3, VarType: lmcrec.VarType(1), MaxSize: 8},
		},
	}

	snap := Snapshot{InstTree: instTree, ClassVarInfo: classVarInfo, InstMaxSize: 8, FirstTs: 1.0, LastTs: 9.0}
	require.NoError(t, store.Save("/var/lmcrec/root1", snap))

	loaded, ok, err := store.Load("/var/lmcrec/root1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8, loaded.InstMaxSize)
	require.Equal(t, 1.0, loaded.FirstTs)
	require.Equal(t, 9.0, loaded.LastTs)
	require.Len(t, loaded.InstTree[lmcrec.ParentKey{IsRoot: true}], 2)
	require.Contains(t, loaded.ClassVarInfo, "Node")
	require.Equal(t, uint64(3), loaded.ClassVarInfo["Node"]["temp"].VarID)
}

func TestLoadUnknownRootReturnsNotOK(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "inventory.db")
	store, err := Open(dbfile)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load("/nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveOverwritesExistingSnapshot(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "inventory.db")
	store, err := Open(dbfile)
	require.NoError(t, err)
	defer store.Close()

	root := "/var/lmcrec/root1"
	require.NoError(t, store.Save(root, Snapshot{InstTree: lmcrec.InstTree{}, ClassVarInfo: lmcrec.ClassVarInfo{}, InstMaxSize: 1}))
	require.NoError(t, store.Save(root, Snapshot{InstTree: lmcrec.InstTree{}, ClassVarInfo: lmcrec.ClassVarInfo{}, InstMaxSize: 42}))

	loaded, ok, err := store.Load(root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, loaded.InstMaxSize)
}
