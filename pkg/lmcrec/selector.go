// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcrec

import (
	"regexp"
	"sort"
	"strings"
)

// Value-qualifier flags (§4.8), ORed into a per-variable bitmask.
const (
	QualValue ValQual = 1 << iota
	QualPrev
	QualAdjDelta
	QualUnadjDelta
	QualRate
)

// ValQual is a bitmask of value qualifiers requested for one variable.
type ValQual int

// qualNeedsPrev is the set of qualifiers that require inst.prev_vars.
const qualNeedsPrev = QualPrev | QualAdjDelta | QualUnadjDelta | QualRate

// qualNeedsDelta is the set of qualifiers that require a delta computation.
const qualNeedsDelta = QualAdjDelta | QualUnadjDelta | QualRate

// qualOrder is the canonical ordering of qualifier flags used both to assign
// result columns and to name them (§4.8).
var qualOrder = []ValQual{QualValue, QualPrev, QualAdjDelta, QualUnadjDelta, QualRate}

var qualSuffix = map[ValQual]string{
	QualPrev:       "p",
	QualAdjDelta:   "d",
	QualUnadjDelta: "D",
	QualRate:       "r",
}

var qualLetter = map[byte]ValQual{
	'v': QualValue,
	'p': QualPrev,
	'd': QualAdjDelta,
	'D': QualUnadjDelta,
	'r': QualRate,
}

func parseValQuals(suffix string) ValQual {
	var q ValQual
	for i := 0; i < len(suffix); i++ {
		q |= qualLetter[suffix[i]]
	}
	if q == 0 {
		q = QualValue
	}
	return q
}

// splitQualSuffix splits "name:quals" at the last ':', returning the bare
// name and the parsed qualifier bitmask. A name with no ':' gets QualValue.
func splitQualSuffix(s string) (string, ValQual) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return s, QualValue
	}
	return s[:i], parseValQuals(s[i+1:])
}

var varTypeByName = map[string]VarType{
	"UNDEFINED":      VarUndefined,
	"BOOLEAN":        VarBoolean,
	"BOOLEAN_CONFIG": VarBooleanConfig,
	"COUNTER":        VarCounter,
	"GAUGE":          VarGauge,
	"GAUGE_CONFIG":   VarGaugeConfig,
	"NUMERIC":        VarNumeric,
	"LARGE_NUMERIC":  VarLargeNumeric,
	"NUMERIC_RANGE":  VarNumericRange,
	"NUMERIC_CONFIG": VarNumericConfig,
	"STRING":         VarString,
	"STRING_CONFIG":  VarStringConfig,
}

// varValAdjustment is the rollover correction applied to a negative raw delta
// (§4.8): 2^32 for COUNTER/NUMERIC, 2^64 for LARGE_NUMERIC. Computed in
// float64 since 2^64 overflows int64.
func varValAdjustment(t VarType) float64 {
	if t == VarLargeNumeric {
		return 18446744073709551616 // 2^64
	}
	return 4294967296 // 2^32
}

// instSpec classifies an "inst" document entry into its full-name, suffix, or
// regex form (§4.8).
type instSpec struct {
	full   map[string]struct{}
	suffix []string
	re     []*regexp.Regexp
}

func (s *instSpec) empty() bool {
	return len(s.full) == 0 && len(s.suffix) == 0 && len(s.re) == 0
}

func (s *instSpec) matches(name string) bool {
	if s.empty() {
		return true
	}
	if _, ok := s.full[name]; ok {
		return true
	}
	for _, suf := range s.suffix {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	for _, re := range s.re {
		if loc := re.FindStringIndex(name); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

func newInstSpec(raw interface{}) *instSpec {
	s := &instSpec{full: make(map[string]struct{})}
	for _, v := range toStringList(raw) {
		switch {
		case len(v) > 1 && strings.HasPrefix(v, "/") && strings.HasSuffix(v, "/"):
			if re, err := regexp.Compile(v[1 : len(v)-1]); err == nil {
				s.re = append(s.re, re)
			}
		case strings.HasPrefix(v, "~"):
			s.suffix = append(s.suffix, v[1:])
		default:
			s.full[v] = struct{}{}
		}
	}
	return s
}

// toStringList normalizes a document value that may be a single string or a
// list of strings (the selector document's JSON/YAML permits either).
func toStringList(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func qualMapFromDoc(raw interface{}, needsPrev *bool) map[string]ValQual {
	m := make(map[string]ValQual)
	for _, entry := range toStringList(raw) {
		name, flags := splitQualSuffix(entry)
		if flags&qualNeedsPrev != 0 {
			*needsPrev = true
		}
		m[strings.ToUpper(name)] = flags
	}
	return m
}

// varHandling pairs a variable id with its requested qualifier bitmask.
type varHandling struct {
	varID uint64
	flags ValQual
}

// classSelector is the per-observed-class resolved projection plan (§4.8).
type classSelector struct {
	// handling is (var_id, qualifier bitmask) in column order.
	handling []varHandling
	// varNames is the expanded column-name list, parallel to handling.
	varNames     []string
	instNames    map[string]struct{}
	lastUpdateTs float64
	haveUpdateTs bool
}

// ClassResult is one observed class's projected rows for a single scan.
type ClassResult struct {
	VarNames   []string
	ValsByInst map[string][]Value
}

// AsMap converts a ClassResult to [inst_name][var_name]value, for callers
// that don't need the parallel-array form.
func (r *ClassResult) AsMap() map[string]map[string]Value {
	out := make(map[string]map[string]Value, len(r.ValsByInst))
	for inst, vals := range r.ValsByInst {
		row := make(map[string]Value, len(r.VarNames))
		for i, name := range r.VarNames {
			row[name] = vals[i]
		}
		out[inst] = row
	}
	return out
}

// Selector compiles a declarative document (§4.8) into an incrementally
// maintained projection plan, driven by an IntervalStateCache's per-scan
// flags.
type Selector struct {
	Name string

	inst      *instSpec
	className string

	excludeTypes map[VarType]struct{}
	excludeVars  map[string]struct{}
	includeTypes map[VarType]ValQual
	includeVars  map[string]ValQual

	NeedsPrev bool

	classified map[string]string // inst name -> class name
	byClass    map[string]*classSelector
	result     map[string]*ClassResult
	haveResult bool
}

// NewSelector compiles a Selector from a declarative document. Recognized
// keys: name, inst, class, include_type, exclude_type, include_var,
// exclude_var (§4.8); any key absent imposes no constraint in that dimension.
func NewSelector(doc map[string]interface{}) *Selector {
	s := &Selector{
		excludeTypes: make(map[VarType]struct{}),
		excludeVars:  make(map[string]struct{}),
		includeTypes: make(map[VarType]ValQual),
		includeVars:  make(map[string]ValQual),
	}

	if name, ok := doc["name"].(string); ok {
		s.Name = name
	}

	s.inst = newInstSpec(doc["inst"])

	if className, ok := doc["class"].(string); ok {
		s.className = className
	}

	for _, t := range toStringList(doc["exclude_type"]) {
		if vt, ok := varTypeByName[strings.ToUpper(t)]; ok {
			s.excludeTypes[vt] = struct{}{}
		}
	}
	for _, v := range toStringList(doc["exclude_var"]) {
		s.excludeVars[v] = struct{}{}
	}

	for name, flags := range qualMapFromDoc(doc["include_type"], &s.NeedsPrev) {
		if vt, ok := varTypeByName[name]; ok {
			s.includeTypes[vt] = flags
		}
	}
	s.includeVars = varQualMapFromDoc(doc["include_var"], &s.NeedsPrev)

	s.reset()
	return s
}

func varQualMapFromDoc(raw interface{}, needsPrev *bool) map[string]ValQual {
	m := make(map[string]ValQual)
	for _, entry := range toStringList(raw) {
		name, flags := splitQualSuffix(entry)
		if flags&qualNeedsPrev != 0 {
			*needsPrev = true
		}
		m[name] = flags
	}
	return m
}

// reset clears the resolved state, invoked fresh and on a new chain (§4.8).
func (s *Selector) reset() {
	s.classified = make(map[string]string)
	s.byClass = make(map[string]*classSelector)
	s.result = nil
	s.haveResult = false
}

// rebuildInstAndClass resolves newly matching instances and, for any class
// whose last_update_ts has advanced, rebuilds its column plan (§4.8).
func (s *Selector) rebuildInstAndClass(c *StateCache) {
	for instName, inst := range c.InstByName {
		if _, done := s.classified[instName]; done {
			continue
		}
		class, ok := c.ClassByID[inst.ClassID]
		if !ok {
			continue
		}
		if s.className != "" && class.Name != s.className {
			continue
		}
		if !s.inst.matches(instName) {
			continue
		}
		s.classified[instName] = class.Name
		cs, ok := s.byClass[class.Name]
		if !ok {
			cs = &classSelector{instNames: make(map[string]struct{})}
			s.byClass[class.Name] = cs
		}
		cs.instNames[instName] = struct{}{}
	}

	for className, cs := range s.byClass {
		class, ok := c.ClassByName[className]
		if !ok {
			continue
		}
		if cs.haveUpdateTs && cs.lastUpdateTs == class.LastUpdateTs {
			continue
		}

		varNames := make([]string, 0, len(class.VarByName))
		for name := range class.VarByName {
			varNames = append(varNames, name)
		}
		sort.Slice(varNames, func(i, j int) bool {
			return strings.ToLower(varNames[i]) < strings.ToLower(varNames[j])
		})

		cs.handling = cs.handling[:0]
		var selectedNames []string
		for _, varName := range varNames {
			info := class.VarByName[varName]
			if _, excl := s.excludeVars[varName]; excl {
				continue
			}
			if flags, ok := s.includeVars[varName]; ok {
				cs.handling = append(cs.handling, varHandling{info.VarID, flags})
				selectedNames = append(selectedNames, varName)
				continue
			}
			if _, excl := s.excludeTypes[info.VarType]; excl {
				continue
			}
			if flags, ok := s.includeTypes[info.VarType]; ok {
				cs.handling = append(cs.handling, varHandling{info.VarID, flags})
				selectedNames = append(selectedNames, varName)
				continue
			}
			if len(s.includeVars) == 0 && len(s.includeTypes) == 0 {
				cs.handling = append(cs.handling, varHandling{info.VarID, QualValue})
				selectedNames = append(selectedNames, varName)
			}
		}

		cs.varNames = cs.varNames[:0]
		for i, vh := range cs.handling {
			name := selectedNames[i]
			for _, flag := range qualOrder {
				if vh.flags&flag == 0 {
					continue
				}
				colName := name
				if suf, ok := qualSuffix[flag]; ok {
					colName += ":" + suf
				}
				cs.varNames = append(cs.varNames, colName)
			}
		}
		cs.lastUpdateTs = class.LastUpdateTs
		cs.haveUpdateTs = true
	}
}

// dropDeletedInst removes instances the state cache has since deleted (§4.8).
func (s *Selector) dropDeletedInst(c *StateCache) {
	for instName, className := range s.classified {
		if _, ok := c.InstByName[instName]; ok {
			continue
		}
		delete(s.classified, instName)
		if cs, ok := s.byClass[className]; ok {
			delete(cs.instNames, instName)
		}
	}
}

// update folds the state cache's per-scan flags into the selector's resolved
// plan, returning whether anything changed (§4.8).
func (s *Selector) update(ic *IntervalStateCache) bool {
	updated := false
	if ic.NewChain {
		s.reset()
		s.rebuildInstAndClass(ic.StateCache)
		updated = true
	} else {
		if ic.NewInst || ic.NewClassDef {
			s.rebuildInstAndClass(ic.StateCache)
			updated = true
		}
		if ic.DeletedInst {
			s.dropDeletedInst(ic.StateCache)
			updated = true
		}
	}
	return updated
}

// Run projects the current scan's values through the compiled selector,
// returning one ClassResult per observed class (§4.8 "Projection").
func (s *Selector) Run(ic *IntervalStateCache) map[string]*ClassResult {
	updated := s.update(ic)
	if updated || !s.haveResult {
		s.result = make(map[string]*ClassResult)
		s.haveResult = true
	}

	var dt float64
	haveDt := ic.HavePrevTs()
	if haveDt {
		dt = ic.Ts - ic.PrevTs
	}

	for className, cs := range s.byClass {
		res, ok := s.result[className]
		if !ok {
			res = &ClassResult{VarNames: cs.varNames, ValsByInst: make(map[string][]Value)}
			s.result[className] = res
		}
		class, ok := ic.ClassByName[className]
		if !ok {
			continue
		}
		for instName := range cs.instNames {
			inst, ok := ic.InstByName[instName]
			if !ok {
				continue
			}
			row, ok := res.ValsByInst[instName]
			if !ok {
				row = make([]Value, len(cs.varNames))
				res.ValsByInst[instName] = row
			}
			valI := 0
			for _, vh := range cs.handling {
				val, haveVal := inst.Vars[vh.varID]
				var prevVal Value
				havePrevVal := false
				if vh.flags&qualNeedsPrev != 0 && inst.PrevVars != nil {
					prevVal, havePrevVal = inst.PrevVars[vh.varID]
				}

				varInfo := class.VarByID[vh.varID]
				var dVal, dValAdj float64
				haveDelta, haveDeltaAdj := false, false
				if vh.flags&qualNeedsDelta != 0 && varInfo != nil && varInfo.VarType.isNumericRollover() &&
					haveVal && val.Kind == ValInt && havePrevVal && prevVal.Kind == ValInt {
					dVal = float64(val.Int - prevVal.Int)
					haveDelta = true
					if dVal < 0 {
						dValAdj = dVal + varValAdjustment(varInfo.VarType)
					} else {
						dValAdj = dVal
					}
					haveDeltaAdj = true
				}

				for _, flag := range qualOrder {
					if vh.flags&flag == 0 {
						continue
					}
					switch flag {
					case QualValue:
						if haveVal {
							row[valI] = val
						} else {
							row[valI] = Value{}
						}
					case QualPrev:
						if havePrevVal {
							row[valI] = prevVal
						} else {
							row[valI] = Value{}
						}
					case QualAdjDelta:
						if haveDeltaAdj {
							row[valI] = FloatValue(dValAdj)
						} else {
							row[valI] = Value{}
						}
					case QualUnadjDelta:
						if haveDelta {
							row[valI] = FloatValue(dVal)
						} else {
							row[valI] = Value{}
						}
					case QualRate:
						if haveDeltaAdj && haveDt {
							row[valI] = FloatValue(dValAdj / dt)
						} else {
							row[valI] = Value{}
						}
					}
					valI++
				}
			}
		}
	}

	return s.result
}
