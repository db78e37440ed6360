package filter

import (
	"strconv"
	"strings"

	"github.com/vextjs/monsqlize/cache"
)

type constraint struct {
	op    string
	value any
}

// Disjoint reports whether no document can satisfy both a and b. It only
// answers true when it can prove it for some shared field:
//
//   - equality against a different equality literal
//   - equality against an $in set that does not contain it
//   - two $in sets with no common element
//   - equality or $in values that all fall outside a range bound
//
// Fields for which modified returns true are not used as proof. Both
// filters are expected to be simple (see Analyze). Equality disjointness
// assumes scalar fields: a document holding an array may match both sides.
func Disjoint(a, b cache.Filter, modified func(field string) bool) bool {
	ca := constraints(a)
	cb := constraints(b)

	for field, xs := range ca {
		ys, shared := cb[field]
		if !shared {
			continue
		}
		if modified != nil && modified(field) {
			continue
		}
		for _, x := range xs {
			for _, y := range ys {
				if pairDisjoint(x, y) || pairDisjoint(y, x) {
					return true
				}
			}
		}
	}
	return false
}

// constraints flattens implicit AND and $and clauses into per-field lists.
func constraints(f cache.Filter) map[string][]constraint {
	out := map[string][]constraint{}
	collect(f, out)
	return out
}

func collect(f map[string]any, out map[string][]constraint) {
	for field, cond := range f {
		if field == "$and" {
			clauses, _ := asSlice(cond)
			for _, c := range clauses {
				if sub, ok := asMap(c); ok {
					collect(sub, out)
				}
			}
			continue
		}
		if strings.HasPrefix(field, "$") {
			continue
		}

		ops, isOps, err := operatorDoc(cond)
		if err != nil {
			continue
		}
		if !isOps {
			out[field] = append(out[field], constraint{op: "$eq", value: cond})
			continue
		}
		for op, arg := range ops {
			out[field] = append(out[field], constraint{op: op, value: arg})
		}
	}
}

func (c constraint) eqLiteral() (any, bool) {
	if c.op != "$eq" || !isScalar(c.value) {
		return nil, false
	}
	return c.value, true
}

func (c constraint) inSet() ([]any, bool) {
	if c.op != "$in" {
		return nil, false
	}
	set, ok := asSlice(c.value)
	if !ok {
		return nil, false
	}
	for _, v := range set {
		if !isScalar(v) {
			return nil, false
		}
	}
	return set, true
}

func (c constraint) rangeBound() bool {
	switch c.op {
	case "$gt", "$gte", "$lt", "$lte":
		return isScalar(c.value)
	}
	return false
}

// pairDisjoint checks x against y in one direction.
func pairDisjoint(x, y constraint) bool {
	if xv, ok := x.eqLiteral(); ok {
		if yv, ok := y.eqLiteral(); ok {
			return !equal(xv, yv)
		}
		if set, ok := y.inSet(); ok {
			return !contains(set, xv)
		}
		if y.rangeBound() {
			return outside(xv, y)
		}
		return false
	}

	if xs, ok := x.inSet(); ok {
		if ys, ok := y.inSet(); ok {
			for _, v := range xs {
				if contains(ys, v) {
					return false
				}
			}
			return true
		}
		if y.rangeBound() {
			for _, v := range xs {
				if !outside(v, y) {
					return false
				}
			}
			return true
		}
	}
	return false
}

func contains(set []any, v any) bool {
	for _, e := range set {
		if equal(e, v) {
			return true
		}
	}
	return false
}

// outside reports whether v provably fails the range constraint r.
// Values of a different type are not taken as proof.
func outside(v any, r constraint) bool {
	if _, ok := compare(v, r.value); !ok {
		return false
	}
	return !satisfies(v, r.op, r.value)
}

// ModifiedBy returns a predicate telling whether an update specification may
// change a field. A nil update changes nothing known. Replacement-style
// updates and unknown operators may change every field.
func ModifiedBy(update map[string]any) func(field string) bool {
	if update == nil {
		return func(string) bool { return false }
	}

	var paths []string
	for op, arg := range update {
		if !strings.HasPrefix(op, "$") {
			return func(string) bool { return true }
		}
		fields, ok := asMap(arg)
		if !ok || !updateOperators[op] {
			return func(string) bool { return true }
		}
		for path, v := range fields {
			paths = append(paths, rootPath(path))
			if op == "$rename" {
				if to, ok := v.(string); ok {
					paths = append(paths, rootPath(to))
				}
			}
		}
	}

	return func(field string) bool {
		for _, p := range paths {
			if overlaps(p, field) {
				return true
			}
		}
		return false
	}
}

var updateOperators = map[string]bool{
	"$set":         true,
	"$unset":       true,
	"$setOnInsert": true,
	"$inc":         true,
	"$mul":         true,
	"$min":         true,
	"$max":         true,
	"$rename":      true,
	"$currentDate": true,
	"$push":        true,
	"$pull":        true,
	"$pullAll":     true,
	"$addToSet":    true,
	"$pop":         true,
}

// rootPath cuts a path at its first positional or index segment, so
// "items.$.qty" and "items.0.qty" both become "items".
func rootPath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "$") {
			return strings.Join(parts[:i], ".")
		}
		if _, err := strconv.Atoi(p); err == nil {
			return strings.Join(parts[:i], ".")
		}
	}
	return path
}

// overlaps reports whether one path is a prefix of the other.
func overlaps(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}
