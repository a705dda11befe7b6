// Package diff computes field-level differences between the locally-held and
// server-held copies of an entity. Pure functions, no I/O: the resolution
// workflow and the conflicts API both build on it.
package diff

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldDiff records one field of the local/server pair and whether the two
// sides materially differ.
type FieldDiff struct {
	Field       string      `json:"field"`
	LocalValue  interface{} `json:"localValue"`
	ServerValue interface{} `json:"serverValue"`
	Differs     bool        `json:"differs"`
}

// numericTolerance is the relative tolerance for numeric comparisons.
// Absorbs floating rounding from tax/currency math across serialization
// round-trips.
var numericTolerance = decimal.New(1, -6)

// Fields returns the union of fields present on either side, local-side
// fields first, then server-only fields. Within each group fields are sorted
// by name so output is deterministic.
func Fields(local, server map[string]interface{}) []FieldDiff {
	localKeys := make([]string, 0, len(local))
	for k := range local {
		localKeys = append(localKeys, k)
	}
	sort.Strings(localKeys)

	serverOnly := make([]string, 0)
	for k := range server {
		if _, ok := local[k]; !ok {
			serverOnly = append(serverOnly, k)
		}
	}
	sort.Strings(serverOnly)

	diffs := make([]FieldDiff, 0, len(localKeys)+len(serverOnly))
	for _, k := range localKeys {
		sv := server[k]
		diffs = append(diffs, FieldDiff{
			Field:       k,
			LocalValue:  local[k],
			ServerValue: sv,
			Differs:     !ValuesEqual(local[k], sv),
		})
	}
	for _, k := range serverOnly {
		diffs = append(diffs, FieldDiff{
			Field:       k,
			LocalValue:  nil,
			ServerValue: server[k],
			Differs:     !ValuesEqual(nil, server[k]),
		})
	}
	return diffs
}

// HasConflict reports whether at least one field differs.
func HasConflict(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if d.Differs {
			return true
		}
	}
	return false
}

// DifferingFields returns the names of the fields that differ.
func DifferingFields(diffs []FieldDiff) []string {
	var out []string
	for _, d := range diffs {
		if d.Differs {
			out = append(out, d.Field)
		}
	}
	return out
}

// ValuesEqual is the type-aware value equality used for diffing.
// Two values are equal when:
//   - both are absent/nil
//   - both are numeric and within a relative tolerance of 1e-6
//   - both are date-like and name the same instant
//   - both are strings and equal after trimming
//   - they are structurally equal (maps/slices compared element-wise with
//     the same rules)
//
// Deliberately NOT language-level identity: JSON round-trips turn ints into
// float64 and reorder/retype values, and that must not look like a conflict.
func ValuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if ad, aok := toDecimal(a); aok {
		if bd, bok := toDecimal(b); bok {
			return decimalsEqual(ad, bd)
		}
		return false
	}

	if at, aok := toInstant(a); aok {
		if bt, bok := toInstant(b); bok {
			return at.Equal(bt)
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.TrimSpace(as) == strings.TrimSpace(bs)
		}
		return false
	}

	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !ValuesEqual(x, y) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func decimalsEqual(a, b decimal.Decimal) bool {
	if a.Equal(b) {
		return true
	}
	maxAbs := a.Abs()
	if bAbs := b.Abs(); bAbs.GreaterThan(maxAbs) {
		maxAbs = bAbs
	}
	return a.Sub(b).Abs().LessThanOrEqual(maxAbs.Mul(numericTolerance))
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromInt(int64(n)), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toInstant(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range instantLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
