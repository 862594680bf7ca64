// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcconf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// selectorSchemaDoc is the JSON Schema for the declarative selector document
// (spec §4.8): "name" is free-form, "inst"/"exclude_type"/"exclude_var" /
// "include_type"/"include_var" accept either a single string or a list of
// strings, and "class" is a plain string. The schema only constrains shape;
// NewSelector (pkg/lmcrec) is tolerant of absent keys.
const selectorSchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "lmcrec selector document",
	"type": "object",
	"properties": {
		"name":         { "type": "string" },
		"class":        { "type": "string" },
		"inst":         { "$ref": "#/definitions/stringOrList" },
		"exclude_type": { "$ref": "#/definitions/stringOrList" },
		"exclude_var":  { "$ref": "#/definitions/stringOrList" },
		"include_type": { "$ref": "#/definitions/stringOrList" },
		"include_var":  { "$ref": "#/definitions/stringOrList" }
	},
	"additionalProperties": false,
	"definitions": {
		"stringOrList": {
			"oneOf": [
				{ "type": "string" },
				{ "type": "array", "items": { "type": "string" } }
			]
		}
	}
}`

var (
	selectorSchemaOnce sync.Once
	selectorSchema     *jsonschema.Schema
	selectorSchemaErr  error
)

func compiledSelectorSchema() (*jsonschema.Schema, error) {
	selectorSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("selector.json", bytes.NewReader([]byte(selectorSchemaDoc))); err != nil {
			selectorSchemaErr = err
			return
		}
		selectorSchema, selectorSchemaErr = compiler.Compile("selector.json")
	})
	return selectorSchema, selectorSchemaErr
}

// ValidateSelectorDoc validates raw selector-document JSON against the
// bundled schema before it is handed to lmcrec.NewSelector. This is the
// query-engine-internal validation §10.2 carves out of the spec's "no
// external config loader" exclusion for the record-dir lookup: the selector
// document is a request payload, not the planner's configuration.
func ValidateSelectorDoc(raw []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("lmcconf: selector document is not valid JSON: %w", err)
	}

	schema, err := compiledSelectorSchema()
	if err != nil {
		return nil, fmt.Errorf("lmcconf: compiling selector schema: %w", err)
	}

	// jsonschema validates against json.Unmarshal's generic representation,
	// which is how doc was produced above, so doc is validated as is.
	var v interface{} = doc
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("lmcconf: selector document failed validation: %w", err)
	}

	return doc, nil
}
