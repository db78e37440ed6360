package cache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// DefaultKeyPrefix is prepended to every key built by the default fingerprinter.
const DefaultKeyPrefix = "monsqlize:"

// maxDepth bounds the normalization walk. Go values can be cyclic through
// maps and slices; anything this deep is treated as unserializable.
const maxDepth = 64

// KeyBuilder turns a query shape into a cache key and builds glob patterns
// matching every key of a namespace.
type KeyBuilder interface {
	Key(q Query) (string, error)
	NamespacePattern(ns Namespace, op Operation) string
	InstancePattern(instanceID string) string
}

// Fingerprinter is the default KeyBuilder. Keys look like
//
//	<prefix><instance>::<db>::<collection>::<operation>::<xxhash64 hex>
//
// The readable head allows coarse, glob based invalidation per namespace and
// operation; the hash covers the whole canonical query.
//
// Keys are stable, not representation independent: an id passed as a hex
// string and the same id passed as an ObjectID produce different keys.
// Callers that mix representations must normalize upstream.
type Fingerprinter struct {
	prefix string
}

// NewFingerprinter creates a fingerprinter using the given key prefix.
func NewFingerprinter(prefix string) *Fingerprinter {
	return &Fingerprinter{prefix: prefix}
}

var defaultFingerprinter = NewFingerprinter(DefaultKeyPrefix)

// Fingerprint builds a key for q with the default prefix.
func Fingerprint(q Query) (string, error) {
	return defaultFingerprinter.Key(q)
}

// Key implements KeyBuilder. Unserializable input (functions, channels,
// unknown struct types, cyclic values) yields a CACHE_KEY_ERROR.
func (f *Fingerprinter) Key(q Query) (string, error) {
	payload, err := canonicalQuery(q)
	if err != nil {
		return "", &Error{Code: CodeKeyError, Op: "fingerprint", Err: err}
	}
	sum := xxhash.Sum64String(payload)

	var b strings.Builder
	b.Grow(len(f.prefix) + len(q.Namespace.InstanceID) + len(q.Namespace.DB) + len(q.Namespace.Collection) + len(q.Operation) + 4*len(KeySeparator) + 16)
	b.WriteString(f.prefix)
	b.WriteString(q.Namespace.String())
	b.WriteString(KeySeparator)
	b.WriteString(string(q.Operation))
	b.WriteString(KeySeparator)
	b.WriteString(fmt.Sprintf("%016x", sum))
	return b.String(), nil
}

// NamespacePattern returns a glob matching all keys of ns, narrowed to one
// operation when op is not empty.
func (f *Fingerprinter) NamespacePattern(ns Namespace, op Operation) string {
	opPart := "*"
	if op != "" {
		opPart = escapeGlob(string(op))
	}
	return escapeGlob(f.prefix) +
		escapeGlob(KeyPart(ns.InstanceID)) + KeySeparator +
		escapeGlob(KeyPart(ns.DB)) + KeySeparator +
		escapeGlob(KeyPart(ns.Collection)) + KeySeparator +
		opPart + KeySeparator + "*"
}

// InstancePattern returns a glob matching every query key of one instance.
func (f *Fingerprinter) InstancePattern(instanceID string) string {
	return escapeGlob(f.prefix) + escapeGlob(KeyPart(instanceID)) + KeySeparator + "*"
}

// CanonicalFilter renders a filter in its canonical, key-order independent form.
func CanonicalFilter(filter Filter) (string, error) {
	c, err := normalize(orEmpty(filter), 0)
	if err != nil {
		return "", &Error{Code: CodeKeyError, Op: "canonical filter", Err: err}
	}
	var b strings.Builder
	c.writeTo(&b)
	return b.String(), nil
}

func canonicalQuery(q Query) (string, error) {
	var b strings.Builder
	b.WriteString(q.Namespace.String())
	b.WriteByte('|')
	b.WriteString(string(q.Operation))
	b.WriteByte('|')

	filter, err := normalize(orEmpty(q.Filter), 0)
	if err != nil {
		return "", fmt.Errorf("filter: %w", err)
	}
	filter.writeTo(&b)
	b.WriteByte('|')

	projection, err := normalize(orEmpty(q.Options.Projection), 0)
	if err != nil {
		return "", fmt.Errorf("projection: %w", err)
	}
	projection.writeTo(&b)
	b.WriteByte('|')

	b.WriteByte('[')
	for i, s := range q.Options.Sort {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		b.WriteString(strconv.Quote(s.Field))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(s.Direction))
		b.WriteByte(']')
	}
	b.WriteByte(']')
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(q.Options.Limit, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(q.Options.Skip, 10))
	if q.Options.DistinctField != "" {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(q.Options.DistinctField))
	}
	return b.String(), nil
}

// orEmpty maps a nil object to an empty one; both select everything.
func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

type valueKind uint8

const (
	kindNull valueKind = iota
	kindBool
	kindNumber
	kindString
	kindDate
	kindOID
	kindRegex
	kindBuffer
	kindArray
	kindObject
)

// canonical is the tagged form of a filter value. The normalization pass
// produces it with an explicit type switch so serialization never inspects
// runtime types.
type canonical struct {
	kind   valueKind
	text   string // number, string, date iso, oid hex, regex source, buffer base64
	flags  string // regex flags
	truth  bool
	items  []canonical
	fields []canonicalField
}

type canonicalField struct {
	name  string
	value canonical
}

func normalize(v any, depth int) (canonical, error) {
	if depth > maxDepth {
		return canonical{}, fmt.Errorf("value nested deeper than %d levels (cyclic reference?)", maxDepth)
	}

	switch val := v.(type) {
	case nil:
		return canonical{kind: kindNull}, nil
	case bool:
		return canonical{kind: kindBool, truth: val}, nil
	case int:
		return intValue(int64(val)), nil
	case int8:
		return intValue(int64(val)), nil
	case int16:
		return intValue(int64(val)), nil
	case int32:
		return intValue(int64(val)), nil
	case int64:
		return intValue(val), nil
	case uint:
		return uintValue(uint64(val)), nil
	case uint8:
		return uintValue(uint64(val)), nil
	case uint16:
		return uintValue(uint64(val)), nil
	case uint32:
		return uintValue(uint64(val)), nil
	case uint64:
		return uintValue(val), nil
	case float32:
		return floatValue(float64(val)), nil
	case float64:
		return floatValue(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return intValue(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return canonical{}, fmt.Errorf("invalid number %q", val.String())
		}
		return floatValue(f), nil
	case string:
		return canonical{kind: kindString, text: val}, nil
	case time.Time:
		return canonical{kind: kindDate, text: val.UTC().Format(time.RFC3339Nano)}, nil
	case *time.Time:
		if val == nil {
			return canonical{kind: kindNull}, nil
		}
		return canonical{kind: kindDate, text: val.UTC().Format(time.RFC3339Nano)}, nil
	case ObjectID:
		return canonical{kind: kindOID, text: val.Hex()}, nil
	case *ObjectID:
		if val == nil {
			return canonical{kind: kindNull}, nil
		}
		return canonical{kind: kindOID, text: val.Hex()}, nil
	case Regex:
		return canonical{kind: kindRegex, text: val.Pattern, flags: sortedFlags(val.Options)}, nil
	case *regexp.Regexp:
		if val == nil {
			return canonical{kind: kindNull}, nil
		}
		return canonical{kind: kindRegex, text: val.String()}, nil
	case Binary:
		return canonical{kind: kindBuffer, text: base64.StdEncoding.EncodeToString(val)}, nil
	case []byte:
		return canonical{kind: kindBuffer, text: base64.StdEncoding.EncodeToString(val)}, nil
	case map[string]any:
		if val == nil {
			return canonical{kind: kindNull}, nil
		}
		return normalizeObject(val, depth)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return normalizeObject(m, depth)
	case map[string]int:
		m := make(map[string]any, len(val))
		for k, n := range val {
			m[k] = n
		}
		return normalizeObject(m, depth)
	case []any:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []map[string]any:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []string:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []int:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []int32:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []int64:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []float64:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []bool:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []ObjectID:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	case []time.Time:
		return normalizeArray(len(val), func(i int) any { return val[i] }, depth)
	default:
		return canonical{}, fmt.Errorf("unsupported value of type %T", v)
	}
}

func normalizeObject(m map[string]any, depth int) (canonical, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]canonicalField, len(names))
	for i, name := range names {
		c, err := normalize(m[name], depth+1)
		if err != nil {
			return canonical{}, fmt.Errorf("%s: %w", name, err)
		}
		fields[i] = canonicalField{name: name, value: c}
	}
	return canonical{kind: kindObject, fields: fields}, nil
}

func normalizeArray(n int, at func(int) any, depth int) (canonical, error) {
	items := make([]canonical, n)
	for i := 0; i < n; i++ {
		c, err := normalize(at(i), depth+1)
		if err != nil {
			return canonical{}, fmt.Errorf("[%d]: %w", i, err)
		}
		items[i] = c
	}
	return canonical{kind: kindArray, items: items}, nil
}

func intValue(i int64) canonical {
	return canonical{kind: kindNumber, text: strconv.FormatInt(i, 10)}
}

func uintValue(u uint64) canonical {
	return canonical{kind: kindNumber, text: strconv.FormatUint(u, 10)}
}

// floatValue renders integral floats like integers so 1 and 1.0 share a key,
// matching the store's numeric equality.
func floatValue(f float64) canonical {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return intValue(int64(f))
	}
	return canonical{kind: kindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

func sortedFlags(flags string) string {
	r := []rune(flags)
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return string(r)
}

func (c canonical) writeTo(b *strings.Builder) {
	switch c.kind {
	case kindNull:
		b.WriteString("null")
	case kindBool:
		b.WriteString(strconv.FormatBool(c.truth))
	case kindNumber:
		b.WriteString(c.text)
	case kindString:
		b.WriteString(strconv.Quote(c.text))
	case kindDate:
		b.WriteString(`{kind:date,iso:`)
		b.WriteString(strconv.Quote(c.text))
		b.WriteByte('}')
	case kindOID:
		b.WriteString(`{kind:oid,hex:`)
		b.WriteString(strconv.Quote(c.text))
		b.WriteByte('}')
	case kindRegex:
		b.WriteString(`{kind:regex,source:`)
		b.WriteString(strconv.Quote(c.text))
		b.WriteString(`,flags:`)
		b.WriteString(strconv.Quote(c.flags))
		b.WriteByte('}')
	case kindBuffer:
		b.WriteString(`{kind:buffer,base64:`)
		b.WriteString(strconv.Quote(c.text))
		b.WriteByte('}')
	case kindArray:
		b.WriteByte('[')
		for i, item := range c.items {
			if i > 0 {
				b.WriteByte(',')
			}
			item.writeTo(b)
		}
		b.WriteByte(']')
	case kindObject:
		b.WriteByte('{')
		for i, f := range c.fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(f.name))
			b.WriteByte(':')
			f.value.writeTo(b)
		}
		b.WriteByte('}')
	}
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
