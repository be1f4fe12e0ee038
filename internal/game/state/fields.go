// Package state defines the replicated entities shared between the
// authoritative session and its clients.
//
// Every entity exposes its synchronized fields by wire name so that only the
// fields that changed since the last broadcast need to be sent.
package state

import (
	"fmt"
	"math"
)

// Fields maps wire field names to primitive values (string, float64, int, bool).
type Fields map[string]any

// DiffFields returns the entries of next whose value differs from prev,
// including keys absent from prev.
//
// Postcondition: The result is nil when nothing changed.
func DiffFields(prev, next Fields) Fields {
	var out Fields
	for k, v := range next {
		if old, ok := prev[k]; ok && sameValue(old, v) {
			continue
		}
		if out == nil {
			out = make(Fields)
		}
		out[k] = v
	}
	return out
}

func sameValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func asFloat(key string, v any) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("field %q: expected number, got %T", key, v)
	}
	return f, nil
}

func asInt(key string, v any) (int, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("field %q: expected number, got %T", key, v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("field %q: expected integer, got %v", key, f)
	}
	return int(f), nil
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s, nil
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected bool, got %T", key, v)
	}
	return b, nil
}
