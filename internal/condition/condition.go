// Package condition evaluates the flat equality predicates attached to
// automation rules, sequence triggers, and sequence steps.
//
// A predicate is a JSON object of field -> expected value. Every key must
// match the corresponding attribute (logical AND); a missing attribute fails
// that key. This is intentionally a flat equality predicate, not an
// expression language — richer operators would be an additive extension,
// not a rewrite.
package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Predicate is a parsed condition object. The zero value (nil or empty map)
// matches every attribute set.
type Predicate map[string]any

// Parse decodes a raw JSON predicate. Empty input and JSON null both parse
// to the always-true predicate. Malformed JSON is an error; callers are
// expected to fail closed (treat the condition as not matched) and log.
func Parse(raw []byte) (Predicate, error) {
	if len(raw) == 0 {
		return Predicate{}, nil
	}
	var p Predicate
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	if p == nil {
		p = Predicate{}
	}
	return p, nil
}

// Evaluate reports whether every key of the predicate equals the same key in
// attrs. An empty predicate always evaluates true.
func (p Predicate) Evaluate(attrs map[string]string) bool {
	for key, expected := range p {
		got, ok := attrs[key]
		if !ok {
			return false
		}
		if !equalsString(expected, got) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the predicate matches unconditionally.
func (p Predicate) IsEmpty() bool { return len(p) == 0 }

// equalsString compares a JSON-decoded expected value against a string
// attribute. Numbers and booleans compare by their canonical string form so
// {"attempts": 3} matches an attribute snapshot of "3".
func equalsString(expected any, got string) bool {
	switch v := expected.(type) {
	case string:
		return v == got
	case bool:
		return strconv.FormatBool(v) == got
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10) == got
		}
		return strconv.FormatFloat(v, 'f', -1, 64) == got
	case nil:
		return got == ""
	default:
		return fmt.Sprintf("%v", v) == got
	}
}
