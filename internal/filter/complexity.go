package filter

import (
	"sort"
	"strings"

	"github.com/vextjs/monsqlize/cache"
)

// safeOperators is the subset the matcher can reason about.
var safeOperators = map[string]bool{
	"$eq":     true,
	"$ne":     true,
	"$gt":     true,
	"$gte":    true,
	"$lt":     true,
	"$lte":    true,
	"$in":     true,
	"$nin":    true,
	"$exists": true,
}

// Complexity is the result of scoring a filter.
type Complexity struct {
	// Score counts field clauses, operators and the deepest nesting level.
	Score int
	// Unsupported lists the constructs outside the safe subset, sorted.
	Unsupported []string
}

// Simple reports whether the filter can be analysed under threshold.
func (c Complexity) Simple(threshold int) bool {
	return len(c.Unsupported) == 0 && c.Score <= threshold
}

// Analyze scores f. A nil or empty filter scores zero and is simple.
func Analyze(f cache.Filter) Complexity {
	if len(f) == 0 {
		return Complexity{}
	}
	a := &analyzer{unsupported: map[string]struct{}{}}
	a.document(f, 1)

	c := Complexity{Score: a.clauses + a.operators + a.depth}
	for name := range a.unsupported {
		c.Unsupported = append(c.Unsupported, name)
	}
	sort.Strings(c.Unsupported)
	return c
}

type analyzer struct {
	clauses     int
	operators   int
	depth       int
	unsupported map[string]struct{}
}

func (a *analyzer) reject(name string) {
	a.unsupported[name] = struct{}{}
}

func (a *analyzer) document(f map[string]any, depth int) {
	if depth > a.depth {
		a.depth = depth
	}
	for key, cond := range f {
		if !strings.HasPrefix(key, "$") {
			a.field(cond, depth)
			continue
		}
		if key != "$and" {
			a.reject(key)
			continue
		}

		a.operators++
		clauses, ok := asSlice(cond)
		if !ok {
			a.reject("$and")
			continue
		}
		for _, c := range clauses {
			sub, ok := asMap(c)
			if !ok {
				a.reject("$and")
				continue
			}
			a.document(sub, depth+1)
		}
	}
}

func (a *analyzer) field(cond any, depth int) {
	a.clauses++
	if isRegex(cond) {
		a.reject("regex literal")
		return
	}

	ops, isOps, err := operatorDoc(cond)
	if err != nil {
		a.reject("mixed operator document")
		return
	}
	if !isOps {
		return
	}

	if depth+1 > a.depth {
		a.depth = depth + 1
	}
	for op, arg := range ops {
		a.operators++
		if !safeOperators[op] {
			a.reject(op)
			continue
		}
		if isRegex(arg) {
			a.reject("regex literal")
		}
		if op == "$in" || op == "$nin" {
			elems, ok := asSlice(arg)
			if !ok {
				a.reject(op)
				continue
			}
			for _, e := range elems {
				if isRegex(e) {
					a.reject("regex literal")
				}
			}
		}
	}
}
