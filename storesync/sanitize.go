// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// SanitizePayload normalizes a loosely-typed remote payload into a plain
// JSON tree decodable by a standard decoder. Remote change payloads arrive
// as a variant structure (tagged null/bool/integer/float/string/array/
// object cases surface in Go as json.Number and nested any values); this
// flattens every case to its native representation.
func SanitizePayload(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("malformed payload: %w", err)}
	}

	clean, err := json.Marshal(SanitizeValue(v))
	if err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return clean, nil
}

// SanitizeValue recursively normalizes one variant value. Nulls stay null,
// booleans and strings pass through, numeric wrappers unwrap to native
// int64/float64, arrays and objects normalize element-wise. Values of
// unknown shape fall back to their string representation rather than
// failing the whole payload.
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string:
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		// Magnitudes beyond int64 range take the string fallback instead of
		// wrapping negative.
		if t > math.MaxInt64 {
			return fmt.Sprintf("%v", t)
		}
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = SanitizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = SanitizeValue(e)
		}
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}
