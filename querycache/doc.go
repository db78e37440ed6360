// Package querycache provides the multi-level query result cache of monsqlize.
//
// # Overview
//
// A Coordinator owns a bounded local LRU store, an optional remote tier, a
// registry of cached query shapes and the invalidation matcher. It is created
// per monsqlize instance and shares nothing with other coordinators unless
// they are given the same remote adapter.
//
//	coord, err := querycache.New(cache.Config{
//		MaxSize:        10000,
//		DefaultTTL:     time.Minute,
//		AutoInvalidate: true,
//	}, querycache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer coord.Close()
//
//	users := querycache.NewCachedCollection(baseUsers, coord)
//	active, err := users.Find(ctx, cache.Filter{"status": "active"}, cache.QueryOptions{})
//
// # Reads
//
// Lookups try the local tier, then the remote tier. A remote hit is copied
// into the local tier with the TTL the remote store reports, or BackfillTTL
// when it reports none. Remote failures and timeouts are misses. Concurrent
// misses on one key share a single computation (GetOrCompute, Fetch); failed
// computations are not cached.
//
// # Writes and write policies
//
//   - write-through: both tiers are written before Set returns; a remote
//     failure is logged and the local value stands.
//   - local-first-async-remote (default with a remote tier): the local tier
//     is written and the remote write runs in the background.
//   - remote-only: only the remote tier is written and hits are never
//     backfilled.
//
// # Precision invalidation
//
// Successful writes reported through OnWrite (CachedCollection does this for
// every write) are matched against the registered shapes of the written
// namespace when the write opts in with AutoInvalidate:
//
//   - inserts evaluate each cached filter against the inserted documents;
//   - updates, deletes and replaces keep an entry only when its filter is
//     proven disjoint from the write filter on some field the write does not
//     modify. A replace also evaluates the replacement document.
//
// Filters using $or, $nor, $not, $where, $expr, $text, $regex, $elemMatch,
// regex literals or unknown operators, or scoring above the complexity
// threshold, are left to expire unless the complex policy is "invalidate".
// Local invalidation completes before OnWrite returns.
//
// # Consistency
//
// Within a process, a write's local invalidation is visible to the next
// read. Remote deletes under local-first-async-remote are fire and forget, so
// other processes sharing the remote tier may serve an entry until its TTL
// elapses. Cross-process freshness is bounded by TTL, not by invalidation.
//
// Equality based disjointness assumes scalar fields: a document holding an
// array can match {tags: "a"} and {tags: "b"} at once, and an update of such a
// document with filter {tags: "b"} keeps the {tags: "a"} entry.
package querycache
