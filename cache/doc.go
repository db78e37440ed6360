// Package cache defines the vocabulary of the monsqlize query cache: query
// shapes, write descriptors, configuration, coded errors and the fingerprint
// that turns a query shape into a cache key.
//
// # Overview
//
// The package exports the types shared by the cache layers:
//
//   - Query and Namespace: the semantic content of a read and its scope
//   - WriteDescriptor: what a successful write tells the invalidation matcher
//   - RemoteAdapter: the optional second cache tier
//   - Config and Settings: the configuration surface, loadable from YAML or
//     MONSQLIZE_* environment variables
//   - Fingerprinter: the default KeyBuilder
//
// The coordinator itself lives in the querycache package.
//
// # Fingerprints
//
// A key is built from the namespace, the operation and a canonical rendering
// of the filter, projection, sort, limit and skip:
//
//	key, err := cache.Fingerprint(cache.Query{
//		Namespace: ns,
//		Operation: cache.OpFind,
//		Filter:    cache.Filter{"status": "active", "age": map[string]any{"$gte": 18}},
//	})
//	// monsqlize:<instance>::<db>::<collection>::find::<16 hex digits>
//
// Object keys are sorted, arrays keep their order, integral floats render
// like integers, and dates, object ids, regular expressions and binary values
// are tagged so they never collide with strings of the same text. A nil
// filter or projection is the same as an empty one. Functions, channels and
// values nested deeper than 64 levels cannot be fingerprinted; Key returns a
// CACHE_KEY_ERROR and callers bypass the cache.
//
// # Configuration
//
// Config is validated with ozzo-validation. Invalid values are returned as a
// *ConfigError naming the offending field:
//
//	cfg := cache.DefaultConfig()
//	cfg.MaxSize = -1
//	err := cfg.Validate() // config error in field MaxSize: must be non-negative
//
// Settings files are strict: unknown YAML fields are rejected.
//
// # Errors
//
// Runtime failures carry an ErrorCode. errors.Is matches on the code:
//
//	if errors.Is(err, cache.ErrRemoteUnavailable) {
//		// the remote tier failed, the call degraded to a miss
//	}
package cache
