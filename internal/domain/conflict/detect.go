package conflict

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

const (
	currencyEpsilon = 0.005
	numberEpsilon   = 1e-9
)

// Detector computes field-level differences between a local and an external
// snapshot. It holds no mutable state and is safe for concurrent use.
type Detector struct {
	schemas map[string]entity.Schema
}

// NewDetector creates a detector over the given schemas keyed by entity type.
// Entity types without a schema compare every field with inferred kinds.
func NewDetector(schemas map[string]entity.Schema) *Detector {
	return &Detector{schemas: schemas}
}

// Detect returns the sorted names of fields that differ. An empty result
// means both sides are synchronized.
func (d *Detector) Detect(entityType string, local, external entity.Snapshot) []string {
	schema, ok := d.schemas[entityType]
	if !ok {
		schema = entity.Schema{Type: entityType}
	}
	return Diff(schema, local, external)
}

// Diff compares two snapshots under schema. A schema that declares Fields
// restricts the comparison to them, so local-only columns and vendor
// bookkeeping never count as divergence. Without declared fields every key
// present on either side is compared.
func Diff(schema entity.Schema, local, external entity.Snapshot) []string {
	var fields []string
	if schema.Fields != nil {
		fields = make([]string, 0, len(schema.Fields))
		for k := range schema.Fields {
			if !schema.Ignored(k) {
				fields = append(fields, k)
			}
		}
	} else {
		fields = make([]string, 0, len(local)+len(external))
		seen := make(map[string]struct{}, len(local)+len(external))
		for _, side := range []entity.Snapshot{local, external} {
			for k := range side {
				if _, dup := seen[k]; dup || schema.Ignored(k) {
					continue
				}
				seen[k] = struct{}{}
				fields = append(fields, k)
			}
		}
	}

	var diff []string
	for _, f := range fields {
		if !equalField(schema.Kind(f), local[f], external[f]) {
			diff = append(diff, f)
		}
	}
	slices.Sort(diff)
	return diff
}

func equalField(kind entity.FieldKind, a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	if kind == entity.KindAny {
		kind = inferKind(a)
	}
	switch kind {
	case entity.KindCurrency:
		return equalFloat(a, b, currencyEpsilon)
	case entity.KindNumber:
		return equalFloat(a, b, numberEpsilon)
	case entity.KindTimestamp:
		ta, okA := toTime(a)
		tb, okB := toTime(b)
		if okA && okB {
			return ta.Truncate(time.Second).Equal(tb.Truncate(time.Second))
		}
	case entity.KindString:
		sa, okA := a.(string)
		sb, okB := b.(string)
		if okA && okB {
			return strings.TrimSpace(sa) == strings.TrimSpace(sb)
		}
	case entity.KindBool:
		ba, okA := toBool(a)
		bb, okB := toBool(b)
		if okA && okB {
			return ba == bb
		}
	}
	return canonicalEqual(a, b)
}

// isNull treats absent, JSON null and blank strings alike.
func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case *time.Time:
		return x == nil
	}
	return false
}

func inferKind(v any) entity.FieldKind {
	switch v.(type) {
	case time.Time, *time.Time:
		return entity.KindTimestamp
	case float64, float32, int, int32, int64, json.Number:
		return entity.KindNumber
	case bool:
		return entity.KindBool
	case string:
		return entity.KindString
	}
	return entity.KindAny
}

func equalFloat(a, b any, eps float64) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return canonicalEqual(a, b)
	}
	return math.Abs(fa-fb) < eps+1e-12
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		return *x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if f, ok := toFloat(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	return false, false
}

// canonicalEqual compares values by their JSON encoding. encoding/json sorts
// map keys, so structurally equal maps encode identically.
func canonicalEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
