// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import "fmt"

// InstRef identifies an instance by name and owning class (§4.9).
type InstRef struct {
	Name      string
	ClassName string
}

// ParentKey is an InstTree map key: the parent of a set of instances, or the
// root bucket when IsRoot is true (an instance with no parent_inst_id match).
type ParentKey struct {
	IsRoot    bool
	Name      string
	ClassName string
}

// InstTree maps a parent to the set of its direct children, accumulated
// across one or more scans (and, via GetInventoryFromFiles, across files).
type InstTree map[ParentKey]map[InstRef]struct{}

func (t InstTree) add(parent ParentKey, child InstRef) {
	set, ok := t[parent]
	if !ok {
		set = make(map[InstRef]struct{})
		t[parent] = set
	}
	set[child] = struct{}{}
}

// ClassVarInfo maps class name -> var name -> the declared VarInfo, merged
// across classes observed so far (§4.9).
type ClassVarInfo map[string]map[string]*VarInfo

// InventoryResult is the accumulated output of one or more GetInventory calls.
type InventoryResult struct {
	InstTree     InstTree
	ClassVarInfo ClassVarInfo

	FirstTs     float64
	HaveFirstTs bool
	LastTs      float64
	HaveLastTs  bool

	Ret ScanResult
}

// GetInventory drives c to exhaustion (or a non-Complete result), building
// (or extending) an instance tree and a per-class variable union (§4.9).
// instTree/classVarInfo may be nil to start fresh, or carried over from a
// prior call (e.g. a previous file in a chain) to accumulate across calls.
func GetInventory(c *StateCache, instTree InstTree, classVarInfo ClassVarInfo) (*InventoryResult, error) {
	if instTree == nil {
		instTree = make(InstTree)
	}
	if classVarInfo == nil {
		classVarInfo = make(ClassVarInfo)
	}

	res := &InventoryResult{InstTree: instTree, ClassVarInfo: classVarInfo}

	for {
		ret, err := c.ApplyNextScan()
		if err != nil {
			return nil, err
		}
		res.Ret = ret
		if ret != Complete {
			break
		}
		if !res.HaveFirstTs {
			res.FirstTs = c.Ts
			res.HaveFirstTs = true
		}
		if !c.NewInst {
			continue
		}
		for instName, inst := range c.InstByName {
			var parent ParentKey
			if parentInst, ok := c.InstByID[inst.ParentInstID]; ok {
				parentClass := c.ClassByID[parentInst.ClassID]
				parent = ParentKey{Name: parentInst.Name, ClassName: parentClass.Name}
			} else {
				parent = ParentKey{IsRoot: true}
			}
			class := c.ClassByID[inst.ClassID]
			instTree.add(parent, InstRef{Name: instName, ClassName: class.Name})
		}
	}

	res.LastTs = c.Ts
	res.HaveLastTs = true

	for className, class := range c.ClassByName {
		vars, ok := classVarInfo[className]
		if !ok {
			vars = make(map[string]*VarInfo)
			classVarInfo[className] = vars
		}
		for varName, info := range class.VarByName {
			curr, ok := vars[varName]
			if !ok {
				vars[varName] = info
				continue
			}
			if curr.VarType != info.VarType {
				return nil, fmt.Errorf("%w: class %q, var %q: inconsistent type, prev: %s, curr: %s",
					ErrInvariant, className, varName, curr.VarType, info.VarType)
			}
			if info.NegVals {
				curr.NegVals = true
			}
			if info.MaxSize > curr.MaxSize {
				curr.MaxSize = info.MaxSize
			}
		}
	}

	return res, nil
}

// GetInventoryFromFiles runs GetInventory independently over each file
// (opening a fresh, non-havePrev StateCache per file), accumulating the
// instance tree, class/var union, the global [firstTs, lastTs] window, and
// the largest instance-name length seen across all files (§4.9).
func GetInventoryFromFiles(files []string, instTree InstTree, classVarInfo ClassVarInfo) (*InventoryResult, int, error) {
	if instTree == nil {
		instTree = make(InstTree)
	}
	if classVarInfo == nil {
		classVarInfo = make(ClassVarInfo)
	}

	global := &InventoryResult{InstTree: instTree, ClassVarInfo: classVarInfo}
	instMaxSize := 0

	for _, name := range files {
		fd, err := OpenFile(name)
		if err != nil {
			return nil, 0, err
		}
		cache := NewStateCache(fd.Decoder, false)
		res, err := GetInventory(cache, instTree, classVarInfo)
		fd.Close()
		if err != nil {
			return nil, 0, err
		}

		if cache.InstMaxSize > instMaxSize {
			instMaxSize = cache.InstMaxSize
		}
		if res.HaveFirstTs && (!global.HaveFirstTs || res.FirstTs < global.FirstTs) {
			global.FirstTs = res.FirstTs
			global.HaveFirstTs = true
		}
		if res.HaveLastTs && (!global.HaveLastTs || res.LastTs > global.LastTs) {
			global.LastTs = res.LastTs
			global.HaveLastTs = true
		}
		global.Ret = res.Ret
	}

	return global, instMaxSize, nil
}
