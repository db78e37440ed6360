package querycache

import (
	"sync"

	"github.com/vextjs/monsqlize/cache"
)

// keyWrites is the in-flight remote state of one key. gen moves with every
// delete that covers the key; refs keeps the entry alive while a set, read
// or delete on the key is pending.
type keyWrites struct {
	refs int
	dels int
	gen  uint64
}

type writeToken struct {
	key string
	gen uint64
}

// remoteWrites orders remote sets and reads against deletes issued after
// them. A set that lands after a later delete is reported stale, and remote
// reads are refused while a delete covering their key is pending. Only keys
// with pending work are tracked.
type remoteWrites struct {
	mu       sync.Mutex
	keys     map[string]*keyWrites
	patterns map[string]int
}

func newRemoteWrites() *remoteWrites {
	return &remoteWrites{
		keys:     make(map[string]*keyWrites),
		patterns: make(map[string]int),
	}
}

// pin and unpin expect w.mu to be held.
func (w *remoteWrites) pin(key string) *keyWrites {
	e, ok := w.keys[key]
	if !ok {
		e = &keyWrites{}
		w.keys[key] = e
	}
	e.refs++
	return e
}

func (w *remoteWrites) unpin(key string, e *keyWrites) {
	e.refs--
	if e.refs == 0 {
		delete(w.keys, key)
	}
}

func (w *remoteWrites) beginSet(key string) writeToken {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.pin(key)
	return writeToken{key: key, gen: e.gen}
}

// endSet releases a set and reports whether a delete covered the key while
// it was in flight. A stale set becomes a pending delete of the key, which
// the caller releases with endDel once the value is gone again.
func (w *remoteWrites) endSet(tok writeToken) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.keys[tok.key]
	if e.gen == tok.gen {
		w.unpin(tok.key, e)
		return false
	}
	e.dels++
	e.gen++
	return true
}

func (w *remoteWrites) beginDel(keys ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, key := range keys {
		e := w.pin(key)
		e.dels++
		e.gen++
	}
}

func (w *remoteWrites) endDel(keys ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, key := range keys {
		if e, ok := w.keys[key]; ok {
			e.dels--
			w.unpin(key, e)
		}
	}
}

// beginPattern marks a pattern delete as pending. The pattern must already
// be valid.
func (w *remoteWrites) beginPattern(pattern string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.patterns[pattern]++
	for key, e := range w.keys {
		if ok, _ := cache.MatchPattern(pattern, key); ok {
			e.gen++
		}
	}
}

func (w *remoteWrites) endPattern(pattern string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := w.patterns[pattern] - 1; n > 0 {
		w.patterns[pattern] = n
	} else {
		delete(w.patterns, pattern)
	}
}

// beginRead pins key for a remote read. It returns false while a delete
// covering key is pending; the caller treats that as a miss.
func (w *remoteWrites) beginRead(key string) (writeToken, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.keys[key]; ok && e.dels > 0 {
		return writeToken{}, false
	}
	for pattern := range w.patterns {
		if ok, _ := cache.MatchPattern(pattern, key); ok {
			return writeToken{}, false
		}
	}
	e := w.pin(key)
	return writeToken{key: key, gen: e.gen}, true
}

// current reports whether no delete covered the key since tok was taken.
func (w *remoteWrites) current(tok writeToken) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.keys[tok.key]
	return ok && e.gen == tok.gen
}

func (w *remoteWrites) endRead(tok writeToken) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.keys[tok.key]; ok {
		w.unpin(tok.key, e)
	}
}

// pending returns the number of tracked keys and patterns.
func (w *remoteWrites) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys) + len(w.patterns)
}
