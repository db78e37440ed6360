package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vextjs/monsqlize/cache"
)

// ErrUnsupported is returned by Match for operators outside the evaluated subset.
var ErrUnsupported = errors.New("unsupported filter construct")

// Match reports whether doc satisfies f. It understands implicit AND, $and,
// dotted paths, array containment and the operators $eq, $ne, $gt, $gte,
// $lt, $lte, $in, $nin and $exists. Anything else yields ErrUnsupported.
func Match(f cache.Filter, doc cache.Document) (bool, error) {
	for field, cond := range f {
		if strings.HasPrefix(field, "$") {
			if field != "$and" {
				return false, fmt.Errorf("%w: %s", ErrUnsupported, field)
			}
			ok, err := matchAnd(cond, doc)
			if err != nil || !ok {
				return false, err
			}
			continue
		}

		ok, err := matchField(doc, field, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchAnd(cond any, doc cache.Document) (bool, error) {
	clauses, ok := asSlice(cond)
	if !ok {
		return false, fmt.Errorf("%w: $and expects an array", ErrUnsupported)
	}
	for _, c := range clauses {
		sub, ok := asMap(c)
		if !ok {
			return false, fmt.Errorf("%w: $and clause must be a document", ErrUnsupported)
		}
		matched, err := Match(sub, doc)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func matchField(doc cache.Document, path string, cond any) (bool, error) {
	values, found := lookup(doc, strings.Split(path, "."))

	ops, isOps, err := operatorDoc(cond)
	if err != nil {
		return false, err
	}
	if !isOps {
		if isRegex(cond) {
			return false, fmt.Errorf("%w: regex literal on %s", ErrUnsupported, path)
		}
		return matchEq(cond, values, found), nil
	}

	for op, arg := range ops {
		ok, err := matchOp(op, arg, values, found)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// operatorDoc reports whether cond is an operator document such as
// {"$gt": 1}. Mixing operators and plain fields is rejected.
func operatorDoc(cond any) (map[string]any, bool, error) {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(m):
		return m, true, nil
	}
	return nil, false, fmt.Errorf("%w: operators mixed with fields", ErrUnsupported)
}

func matchOp(op string, arg any, values []any, found bool) (bool, error) {
	switch op {
	case "$eq":
		if isRegex(arg) {
			return false, fmt.Errorf("%w: regex in $eq", ErrUnsupported)
		}
		return matchEq(arg, values, found), nil
	case "$ne":
		return !matchEq(arg, values, found), nil
	case "$in":
		return matchIn(arg, values, found)
	case "$nin":
		ok, err := matchIn(arg, values, found)
		return !ok, err
	case "$exists":
		return truthy(arg) == found, nil
	case "$gt", "$gte", "$lt", "$lte":
		return matchRange(op, arg, values), nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupported, op)
}

// matchEq matches a candidate equal to target or an array candidate
// containing target. A nil target also matches a missing field.
func matchEq(target any, values []any, found bool) bool {
	if target == nil && !found {
		return true
	}
	for _, v := range values {
		if equal(v, target) {
			return true
		}
		if elems, ok := asSlice(v); ok {
			for _, e := range elems {
				if equal(e, target) {
					return true
				}
			}
		}
	}
	return false
}

func matchIn(arg any, values []any, found bool) (bool, error) {
	set, ok := asSlice(arg)
	if !ok {
		return false, fmt.Errorf("%w: $in/$nin expects an array", ErrUnsupported)
	}
	for _, target := range set {
		if isRegex(target) {
			return false, fmt.Errorf("%w: regex in $in", ErrUnsupported)
		}
		if matchEq(target, values, found) {
			return true, nil
		}
	}
	return false, nil
}

func matchRange(op string, bound any, values []any) bool {
	for _, v := range values {
		if satisfies(v, op, bound) {
			return true
		}
		if elems, ok := asSlice(v); ok {
			for _, e := range elems {
				if satisfies(e, op, bound) {
					return true
				}
			}
		}
	}
	return false
}

// satisfies applies one range operator. Values of different types never match.
func satisfies(v any, op string, bound any) bool {
	c, ok := compare(v, bound)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

// lookup resolves a dotted path. Arrays met along the way fan out over their
// document elements unless the segment is a valid index.
func lookup(v any, parts []string) ([]any, bool) {
	if len(parts) == 0 {
		return []any{v}, true
	}

	if m, ok := asMap(v); ok {
		next, ok := m[parts[0]]
		if !ok {
			return nil, false
		}
		return lookup(next, parts[1:])
	}

	elems, ok := asSlice(v)
	if !ok {
		return nil, false
	}
	if idx, err := strconv.Atoi(parts[0]); err == nil {
		if idx < 0 || idx >= len(elems) {
			return nil, false
		}
		return lookup(elems[idx], parts[1:])
	}

	var (
		out   []any
		found bool
	)
	for _, e := range elems {
		if _, isDoc := asMap(e); !isDoc {
			continue
		}
		vs, ok := lookup(e, parts)
		if ok {
			found = true
			out = append(out, vs...)
		}
	}
	return out, found
}

func isRegex(v any) bool {
	switch v.(type) {
	case cache.Regex, *cache.Regex, *regexp.Regexp, regexp.Regexp:
		return true
	}
	return false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
