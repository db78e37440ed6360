package filter

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/vextjs/monsqlize/cache"
)

// class groups values that can be ordered against each other.
type class int

const (
	classNone class = iota
	classNull
	classNumber
	classString
	classBool
	classTime
	classObjectID
	classBinary
)

func classOf(v any) class {
	switch v.(type) {
	case nil:
		return classNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return classNumber
	case string:
		return classString
	case bool:
		return classBool
	case time.Time, *time.Time:
		return classTime
	case cache.ObjectID, *cache.ObjectID:
		return classObjectID
	case cache.Binary, []byte:
		return classBinary
	default:
		return classNone
	}
}

// isScalar reports whether v is a literal that compares by value.
func isScalar(v any) bool {
	c := classOf(v)
	return c != classNone && c != classNull
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	}
	return time.Time{}
}

func toObjectID(v any) cache.ObjectID {
	switch id := v.(type) {
	case cache.ObjectID:
		return id
	case *cache.ObjectID:
		if id != nil {
			return *id
		}
	}
	return cache.ObjectID{}
}

func toBytes(v any) []byte {
	switch b := v.(type) {
	case cache.Binary:
		return b
	case []byte:
		return b
	}
	return nil
}

// compare orders two values of the same class. ok is false when the values
// are not comparable, in which case range operators never match.
func compare(a, b any) (int, bool) {
	ca, cb := classOf(a), classOf(b)
	if ca != cb || ca == classNone {
		return 0, false
	}

	switch ca {
	case classNull:
		return 0, true
	case classNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	case classString:
		return strings.Compare(a.(string), b.(string)), true
	case classBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	case classTime:
		return toTime(a).Compare(toTime(b)), true
	case classObjectID:
		ia, ib := toObjectID(a), toObjectID(b)
		return bytes.Compare(ia[:], ib[:]), true
	case classBinary:
		return bytes.Compare(toBytes(a), toBytes(b)), true
	}
	return 0, false
}

// equal is value equality with numeric cross-type comparison and structural
// equality for embedded documents and arrays.
func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}

	ma, aIsMap := asMap(a)
	mb, bIsMap := asMap(b)
	if aIsMap || bIsMap {
		if !aIsMap || !bIsMap || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !equal(va, vb) {
				return false
			}
		}
		return true
	}

	sa, aIsSlice := asSlice(a)
	sb, bIsSlice := asSlice(b)
	if aIsSlice || bIsSlice {
		if !aIsSlice || !bIsSlice || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asSlice converts any non-byte slice to []any.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []byte, cache.Binary, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isID := v.(cache.ObjectID); isID {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Compare orders a and b when they are of the same kind: numbers, strings,
// booleans, times, object ids or binary values.
func Compare(a, b any) (int, bool) {
	return compare(a, b)
}

// Equal reports value equality as used by filter evaluation.
func Equal(a, b any) bool {
	return equal(a, b)
}
