package cache

import (
	"strconv"
	"strings"
)

// Document is a single stored record as seen by the cache layer.
type Document = map[string]any

// Filter is a query predicate in the document store's operator syntax
// (implicit AND of field constraints, `$`-prefixed operators).
type Filter = map[string]any

// Namespace scopes cache entries for invalidation: one collection of one
// database, owned by one monsqlize instance.
type Namespace struct {
	InstanceID string
	DB         string
	Collection string
}

// String renders the namespace as "<instance>::<db>::<collection>". Each
// part is escaped with KeyPart, so distinct namespaces never render alike.
func (n Namespace) String() string {
	return KeyPart(n.InstanceID) + KeySeparator + KeyPart(n.DB) + KeySeparator + KeyPart(n.Collection)
}

var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "|", "%7C")

// KeyPart percent-escapes the bytes that delimit key segments and the
// fingerprint payload.
func KeyPart(s string) string {
	if !strings.ContainsAny(s, "%:|") {
		return s
	}
	return keyPartEscaper.Replace(s)
}

// Operation names a cacheable read operation.
type Operation string

const (
	OpFind     Operation = "find"
	OpFindOne  Operation = "findOne"
	OpCount    Operation = "count"
	OpDistinct Operation = "distinct"
)

// SortField is one entry of an ordered sort specification.
type SortField struct {
	Field     string
	Direction int
}

// QueryOptions carries the result-shaping options that take part in the fingerprint.
type QueryOptions struct {
	Projection map[string]any
	Sort       []SortField
	Limit      int64
	Skip       int64

	// DistinctField is the field of a distinct operation.
	DistinctField string
}

// Query is the semantic content that produces a cache key (the query shape).
type Query struct {
	Namespace Namespace
	Operation Operation
	Filter    Filter
	Options   QueryOptions
}

// WriteOperation is the kind of write reported to the invalidation matcher.
type WriteOperation string

const (
	WriteInsert  WriteOperation = "insert"
	WriteUpdate  WriteOperation = "update"
	WriteDelete  WriteOperation = "delete"
	WriteReplace WriteOperation = "replace"
)

// WriteDescriptor describes a successful write. It is produced by the write
// path, consumed once by the matcher and not retained.
type WriteDescriptor struct {
	Namespace Namespace
	Operation WriteOperation
	// Filter selects the written documents (update, delete, replace).
	Filter Filter
	// Documents are the inserted documents (insert).
	Documents []Document
	// Update is the update specification for update writes, or the
	// replacement document for replace writes. Nil when unknown.
	Update map[string]any
	// AutoInvalidate opts this write into precision invalidation.
	AutoInvalidate bool
}

// Stats is a snapshot of cache counters. Counters are monotonic since the
// cache was created; Size is the current number of local entries.
type Stats struct {
	Hits            uint64
	Misses          uint64
	Sets            uint64
	Evictions       uint64
	ExpiredRemovals uint64
	Invalidations   uint64
	Size            int
	// ApproxBytes is a rough estimate of the memory held by local values.
	ApproxBytes     int64

	RemoteHits   uint64
	RemoteMisses uint64
	RemoteErrors uint64
	Backfills    uint64
}

// HitRatio returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) String() string {
	var b strings.Builder
	b.WriteString("hits=")
	b.WriteString(strconv.FormatUint(s.Hits, 10))
	b.WriteString(" misses=")
	b.WriteString(strconv.FormatUint(s.Misses, 10))
	b.WriteString(" sets=")
	b.WriteString(strconv.FormatUint(s.Sets, 10))
	b.WriteString(" evictions=")
	b.WriteString(strconv.FormatUint(s.Evictions, 10))
	b.WriteString(" invalidations=")
	b.WriteString(strconv.FormatUint(s.Invalidations, 10))
	b.WriteString(" size=")
	b.WriteString(strconv.Itoa(s.Size))
	return b.String()
}
