// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"fmt"
	"io"
)

// ScanResult is the outcome of one StateCache.ApplyNextScan call (§4.5).
type ScanResult int

const (
	Complete ScanResult = iota + 1
	AtEor
	AtEof
	Closed
	Partial
)

func (r ScanResult) String() string {
	switch r {
	case Complete:
		return "COMPLETE"
	case AtEor:
		return "ATEOR"
	case AtEof:
		return "ATEOF"
	case Closed:
		return "CLOSED"
	case Partial:
		return "PARTIAL"
	default:
		return fmt.Sprintf("ScanResult(%d)", int(r))
	}
}

// VarInfo describes a variable declared within a class (§3). Instances of
// VarInfo are shared: the ClassEntry indexes the same *VarInfo under both its
// id and its name.
type VarInfo struct {
	Name    string
	VarID   uint64
	VarType VarType
	// NegVals records whether this variable has ever been observed to carry
	// a negative value (integer types give no sign bit of their own).
	NegVals bool
	// MaxSize is the largest length observed for a string value.
	MaxSize int
}

// ClassEntry is a declared class (§3), shared by reference between
// ClassByID and ClassByName.
type ClassEntry struct {
	Name        string
	ClassID     uint64
	VarByID     map[uint64]*VarInfo
	VarByName   map[string]*VarInfo
	LastUpdateTs float64
}

// InstEntry is a live instance (§3), shared by reference between InstByID
// and InstByName. PrevVars is nil until the first scan that populates it
// (only if the cache was constructed with havePrev).
type InstEntry struct {
	Name         string
	InstID       uint64
	ClassID      uint64
	ParentInstID uint64
	Vars         map[uint64]Value
	PrevVars     map[uint64]Value
}

// ScanTally is the most recently-seen SCAN_TALLY record's payload (§3);
// overwritten, not appended, on each occurrence.
type ScanTally struct {
	InByteCount  uint64
	InInstCount  uint64
	InVarCount   uint64
	OutVarCount  uint64
}

// StateCache incrementally folds a stream of scans into class/instance/
// variable state (C5, §4.5). It owns no lifecycle of its own beyond its
// bound decoder; IntervalStateCache (C7) drives it across a planned chain.
type StateCache struct {
	decoder  *Decoder
	havePrev bool

	Ts        float64
	PrevTs    float64
	havePrevTs bool
	haveTs    bool
	Duration  float64
	ScanTally *ScanTally
	NumScans  int

	NewInst      bool
	DeletedInst  bool
	NewClassDef  bool

	ClassByID   map[uint64]*ClassEntry
	ClassByName map[string]*ClassEntry
	InstByID    map[uint64]*InstEntry
	InstByName  map[string]*InstEntry
	// InstByClassName maps a class name to the set of current instance names
	// belonging to it.
	InstByClassName map[string]map[string]struct{}

	InstMaxSize int

	currClass *ClassEntry
	currInst  *InstEntry

	rec *Record // reusable record buffer across scans
}

// NewStateCache creates a cache bound to decoder. If havePrev is true, each
// instance's vars snapshot is copied into PrevVars at the start of every
// scan, before that scan's body is applied (§4.5 "previous-values discipline").
func NewStateCache(decoder *Decoder, havePrev bool) *StateCache {
	c := &StateCache{decoder: decoder, havePrev: havePrev}
	c.Reset()
	return c
}

// Reset clears all state back to an empty cache, keeping the bound decoder.
func (c *StateCache) Reset() {
	c.Ts = 0
	c.PrevTs = 0
	c.havePrevTs = false
	c.haveTs = false
	c.Duration = 0
	c.ScanTally = nil
	c.NumScans = 0
	c.NewInst = false
	c.DeletedInst = false
	c.NewClassDef = false

	c.ClassByID = make(map[uint64]*ClassEntry)
	c.ClassByName = make(map[string]*ClassEntry)
	c.InstByID = make(map[uint64]*InstEntry)
	c.InstByName = make(map[string]*InstEntry)
	c.InstByClassName = make(map[string]map[string]struct{})
	c.InstMaxSize = 0
	c.currClass = nil
	c.currInst = nil
}

// SetDecoder swaps the bound decoder. Only valid when no scan is in progress
// (§5 "shared resources").
func (c *StateCache) SetDecoder(decoder *Decoder) {
	c.decoder = decoder
}

func (c *StateCache) addInstToClassName(className, instName string) {
	set, ok := c.InstByClassName[className]
	if !ok {
		set = make(map[string]struct{})
		c.InstByClassName[className] = set
	}
	set[instName] = struct{}{}
}

// ApplyNextScan drives one scan to completion (§4.5).
func (c *StateCache) ApplyNextScan() (ScanResult, error) {
	if c.decoder == nil {
		return Closed, nil
	}

	rec, err := c.decoder.NextRecord(c.rec)
	if err != nil {
		if err == io.EOF {
			c.decoder = nil
			return AtEof, nil
		}
		return 0, err
	}
	c.rec = rec

	if rec.Type == RecEOR {
		c.decoder = nil
		return AtEor, nil
	}

	if rec.Type != RecTimestampUsec {
		return 0, fmt.Errorf("%w: want TIMESTAMP_USEC, got %s", ErrFormat, rec.Type)
	}

	if c.havePrev && c.haveTs {
		c.PrevTs = c.Ts
		c.havePrevTs = true
	}
	c.Ts = rec.Ts
	c.haveTs = true
	c.NewInst = false
	c.DeletedInst = false
	c.NewClassDef = false

	if c.havePrev {
		for _, inst := range c.InstByID {
			if inst.PrevVars == nil {
				inst.PrevVars = make(map[uint64]Value, len(inst.Vars))
			}
			for k, v := range inst.Vars {
				inst.PrevVars[k] = v
			}
		}
	}

	for {
		rec, err = c.decoder.NextRecord(rec)
		if err != nil {
			if err == io.EOF {
				c.decoder = nil
				return Partial, nil
			}
			return 0, err
		}
		c.rec = rec

		switch rec.Type {
		case RecVarValue:
			if c.currInst == nil || c.currClass == nil {
				return 0, fmt.Errorf("%w: VAR_VALUE with no current instance", ErrInvariant)
			}
			varInfo, ok := c.currClass.VarByID[rec.VarID]
			if !ok {
				return 0, fmt.Errorf("%w: VAR_VALUE for undeclared var_id %d in class %q",
					ErrInvariant, rec.VarID, c.currClass.Name)
			}
			c.currInst.Vars[rec.VarID] = rec.Value
			if rec.FileRecordType == WireVarSintVal {
				varInfo.NegVals = true
			} else if rec.Value.Kind == ValInt && rec.Value.Int < 0 {
				varInfo.NegVals = true
			} else if rec.Value.Kind == ValString && len(rec.Value.Str) > varInfo.MaxSize {
				varInfo.MaxSize = len(rec.Value.Str)
			}

		case RecSetInstID:
			inst, ok := c.InstByID[rec.InstID]
			if !ok {
				return 0, fmt.Errorf("%w: SET_INST_ID for unknown inst_id %d", ErrInvariant, rec.InstID)
			}
			c.currInst = inst
			c.currClass = c.ClassByID[inst.ClassID]

		case RecDeleteInstID:
			inst, ok := c.InstByID[rec.InstID]
			if ok {
				if c.currInst == inst {
					c.currInst = nil
				}
				if class, ok := c.ClassByID[inst.ClassID]; ok {
					if set, ok := c.InstByClassName[class.Name]; ok {
						delete(set, inst.Name)
					}
				}
				delete(c.InstByName, inst.Name)
				delete(c.InstByID, rec.InstID)
				c.DeletedInst = true
			}
			// Missing id: silently ignored (late delete, §4.5).

		case RecInstInfo:
			inst, ok := c.InstByID[rec.InstID]
			if !ok {
				if existing, ok := c.InstByName[rec.Name]; ok {
					return 0, fmt.Errorf(
						"%w: definition change for inst %q:\n  was: inst_id=%d, class ID: %d, parent inst ID: %d\n   is: inst_id=%d, class ID: %d, parent inst ID: %d",
						ErrInvariant, rec.Name,
						existing.InstID, existing.ClassID, existing.ParentInstID,
						rec.InstID, rec.ClassID, rec.ParentInstID)
				}
				class, ok := c.ClassByID[rec.ClassID]
				if !ok {
					return 0, fmt.Errorf("%w: INST_INFO references undeclared class_id %d", ErrInvariant, rec.ClassID)
				}
				inst = &InstEntry{
					Name:         rec.Name,
					InstID:       rec.InstID,
					ClassID:      rec.ClassID,
					ParentInstID: rec.ParentInstID,
					Vars:         make(map[uint64]Value),
				}
				c.InstByID[inst.InstID] = inst
				c.InstByName[inst.Name] = inst
				c.addInstToClassName(class.Name, inst.Name)
				if len(inst.Name) > c.InstMaxSize {
					c.InstMaxSize = len(inst.Name)
				}
				c.NewInst = true
			} else {
				if inst.Name != rec.Name || inst.ClassID != rec.ClassID || inst.ParentInstID != rec.ParentInstID {
					return 0, fmt.Errorf(
						"%w: definition change for inst ID %d\n  was: name=%q, class ID: %d, parent inst ID: %d\n   is: name=%q, class ID: %d, parent inst ID: %d",
						ErrInvariant, rec.InstID,
						inst.Name, inst.ClassID, inst.ParentInstID,
						rec.Name, rec.ClassID, rec.ParentInstID)
				}
			}
			c.currInst = inst
			c.currClass = c.ClassByID[inst.ClassID]

		case RecVarInfo:
			class, ok := c.ClassByID[rec.ClassID]
			if !ok {
				return 0, fmt.Errorf("%w: VAR_INFO references undeclared class_id %d", ErrInvariant, rec.ClassID)
			}
			varInfo, ok := class.VarByID[rec.VarID]
			if !ok {
				if existing, ok := class.VarByName[rec.Name]; ok {
					return 0, fmt.Errorf(
						"%w: var definition change for var %q of class %q, class ID %d:\n  was: var_id=%d, type=%s\n   is: var_id=%d, type=%s",
						ErrInvariant, rec.Name, class.Name, class.ClassID,
						existing.VarID, existing.VarType, rec.VarID, rec.VarType)
				}
				varInfo = &VarInfo{Name: rec.Name, VarID: rec.VarID, VarType: rec.VarType}
				class.VarByID[varInfo.VarID] = varInfo
				class.VarByName[varInfo.Name] = varInfo
				class.LastUpdateTs = c.Ts
				c.NewClassDef = true
			} else {
				if varInfo.Name != rec.Name || varInfo.VarType != rec.VarType {
					return 0, fmt.Errorf(
						"%w: var definition change for var ID %d of class %q, class ID %d:\n  was: name=%q, type=%s\n   is: name=%q, type=%s",
						ErrInvariant, varInfo.VarID, class.Name, class.ClassID,
						varInfo.Name, varInfo.VarType, rec.Name, rec.VarType)
				}
			}

		case RecClassInfo:
			class, ok := c.ClassByID[rec.ClassID]
			if !ok {
				if existing, ok := c.ClassByName[rec.Name]; ok {
					return 0, fmt.Errorf(
						"%w: class definition changed for class %q:\n  was: class_id=%d\n   is: class_id=%d",
						ErrInvariant, rec.Name, existing.ClassID, rec.ClassID)
				}
				class = &ClassEntry{
					Name:         rec.Name,
					ClassID:      rec.ClassID,
					VarByID:      make(map[uint64]*VarInfo),
					VarByName:    make(map[string]*VarInfo),
					LastUpdateTs: c.Ts,
				}
				c.ClassByName[rec.Name] = class
				c.ClassByID[rec.ClassID] = class
				c.NewClassDef = true
			} else if class.Name != rec.Name {
				return 0, fmt.Errorf(
					"%w: class definition changed for class ID %d:\n  was: name=%q\n   is: name=%q",
					ErrInvariant, rec.ClassID, class.Name, rec.Name)
			}
			c.currClass = class

		case RecScanTally:
			if c.ScanTally == nil {
				c.ScanTally = &ScanTally{}
			}
			c.ScanTally.InByteCount = rec.ScanInByteCount
			c.ScanTally.InInstCount = rec.ScanInInstCount
			c.ScanTally.InVarCount = rec.ScanInVarCount
			c.ScanTally.OutVarCount = rec.ScanOutVarCount

		case RecDurationUsec:
			c.Duration = rec.Ts
			c.NumScans++
			return Complete, nil

		case RecEOR:
			c.decoder = nil
			return Partial, nil

		default:
			return 0, fmt.Errorf("%w: unexpected record type %s inside scan body", ErrFormat, rec.Type)
		}
	}
}

// GetInstVar retrieves one variable's current value by instance and variable name.
func (c *StateCache) GetInstVar(instName, varName string) (Value, bool) {
	inst, ok := c.InstByName[instName]
	if !ok {
		return Value{}, false
	}
	class, ok := c.ClassByID[inst.ClassID]
	if !ok {
		return Value{}, false
	}
	varInfo, ok := class.VarByName[varName]
	if !ok {
		return Value{}, false
	}
	v, ok := inst.Vars[varInfo.VarID]
	return v, ok
}

// GetInstVars retrieves current values for the named variables (or all
// declared variables if varNames is empty) of one instance.
func (c *StateCache) GetInstVars(instName string, varNames ...string) map[string]Value {
	result := make(map[string]Value)
	inst, ok := c.InstByName[instName]
	if !ok {
		return result
	}
	class, ok := c.ClassByID[inst.ClassID]
	if !ok {
		return result
	}
	names := varNames
	if len(names) == 0 {
		for n := range class.VarByName {
			names = append(names, n)
		}
	}
	for _, n := range names {
		varInfo, ok := class.VarByName[n]
		if !ok {
			continue
		}
		if v, ok := inst.Vars[varInfo.VarID]; ok {
			result[n] = v
		}
	}
	return result
}

// GetInstCurrPrevVar retrieves current and previous values for one variable.
func (c *StateCache) GetInstCurrPrevVar(instName, varName string) (cur Value, curOK bool, prev Value, prevOK bool) {
	inst, ok := c.InstByName[instName]
	if !ok {
		return
	}
	class, ok := c.ClassByID[inst.ClassID]
	if !ok {
		return
	}
	varInfo, ok := class.VarByName[varName]
	if !ok {
		return
	}
	cur, curOK = inst.Vars[varInfo.VarID]
	if inst.PrevVars != nil {
		prev, prevOK = inst.PrevVars[varInfo.VarID]
	}
	return
}

// GetInstClassName retrieves the class name of an instance.
func (c *StateCache) GetInstClassName(instName string) (string, bool) {
	inst, ok := c.InstByName[instName]
	if !ok {
		return "", false
	}
	class, ok := c.ClassByID[inst.ClassID]
	if !ok {
		return "", false
	}
	return class.Name, true
}

// GetClassInstNames returns the current instance names for a class.
func (c *StateCache) GetClassInstNames(className string) map[string]struct{} {
	return c.InstByClassName[className]
}

// HavePrevTs reports whether PrevTs holds a meaningful value (at least two
// scans have completed since construction or the last Reset, with havePrev set).
func (c *StateCache) HavePrevTs() bool { return c.havePrevTs }
