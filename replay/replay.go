// Package replay implements idempotent membership checking over 128-bit
// replay codes, with implementations that fail closed under concurrent
// access and a null implementation for outbound construction.
package replay

import (
	"sync"

	"github.com/decred/dcrd/lru"
	"github.com/xolotlmix/xolotl/xerr"
)

// Code is a 16-byte replay code derived from a hop's key stream.
type Code [16]byte

// Filter is the replay-checking contract every node-router implementation
// depends on: if code is already present, CheckAndInsert returns
// xerr.ErrReplay; otherwise it inserts code and returns nil.
type Filter interface {
	CheckAndInsert(code Code) error
}

// MapFilter is a sync.RWMutex-guarded set, the default implementation,
// grounded on the original checker's RwLock<HashSet<ReplayCode>>.
type MapFilter struct {
	mu   sync.RWMutex
	seen map[Code]struct{}
}

// NewMapFilter returns an empty MapFilter.
func NewMapFilter() *MapFilter {
	return &MapFilter{seen: make(map[Code]struct{})}
}

// CheckAndInsert implements Filter.
func (f *MapFilter) CheckAndInsert(code Code) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerr.Internal("replay filter: recovered panic: %v", r)
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[code]; ok {
		return xerr.ErrReplay
	}
	f.seen[code] = struct{}{}
	return nil
}

// LRUFilter bounds memory by evicting codes in the lru cache's
// least-recently-used order once its fixed capacity is exceeded, for nodes
// that would rather bound memory than retain every code forever.
type LRUFilter struct {
	mu    sync.Mutex
	cache *lru.Cache[Code]
}

// NewLRUFilter returns an LRUFilter holding at most capacity codes.
func NewLRUFilter(capacity uint) *LRUFilter {
	return &LRUFilter{cache: lru.NewCache[Code](capacity)}
}

// CheckAndInsert implements Filter.
func (f *LRUFilter) CheckAndInsert(code Code) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerr.Internal("replay filter: recovered panic: %v", r)
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache.Contains(code) {
		return xerr.ErrReplay
	}
	f.cache.Add(code)
	return nil
}

// Ignore is a null implementation used when building outbound packets: it
// never mutates and never reports a replay, since an outbound builder is not
// replaying anything.
type Ignore struct{}

// CheckAndInsert implements Filter by always succeeding.
func (Ignore) CheckAndInsert(Code) error { return nil }
