// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// PayloadValidator checks sanitized event payloads against per-entity JSON
// schemas before they reach the replica. Optional: a nil validator, or an
// entity without a schema, accepts everything.
type PayloadValidator struct {
	schemas map[EntityType]*jsonschema.Schema
}

// NewPayloadValidator compiles one JSON schema document per entity type.
func NewPayloadValidator(sources map[EntityType]string) (*PayloadValidator, error) {
	compiler := jsonschema.NewCompiler()
	schemas := make(map[EntityType]*jsonschema.Schema, len(sources))

	for entity, src := range sources {
		name := string(entity) + ".schema.json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema for %s: %w", entity, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema resource for %s: %w", entity, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", entity, err)
		}
		schemas[entity] = schema
	}

	return &PayloadValidator{schemas: schemas}, nil
}

// Validate reports a DecodeError when the payload violates the entity's
// schema, so callers treat schema violations like any other malformed
// payload: log, drop, continue.
func (v *PayloadValidator) Validate(entity EntityType, payload []byte) error {
	if v == nil {
		return nil
	}
	schema, ok := v.schemas[entity]
	if !ok {
		return nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &DecodeError{Entity: entity, Cause: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &DecodeError{Entity: entity, Cause: err}
	}
	return nil
}
