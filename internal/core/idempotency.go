package core

import (
	"VaultLedger/internal/observability"
	"container/list"
	"context"
	"fmt"
	"time"
)

// IdempotencyChecker implements two-tier request deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker
	dbTimeout time.Duration

	metrics *observability.Metrics
}

// DBIdempotencyChecker looks up requests already recorded in Postgres.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, kind string, requestID string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		dbTimeout: 500 * time.Millisecond,
		metrics:   metrics,
	}
}

// DedupKey is the cache key of a request id within its kind.
func DedupKey(kind, requestID string) string {
	return fmt.Sprintf("%s:%s", kind, requestID)
}

// IsDuplicate checks the LRU first and falls back to Postgres. A Postgres
// error is treated as "not seen" so a DB outage never blocks ingestion.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, kind string, requestID string) bool {
	key := DedupKey(kind, requestID)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(kind, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	dbCtx, cancel := context.WithTimeout(ctx, ic.dbTimeout)
	defer cancel()
	isDup, err := ic.dbChecker.IsDuplicate(dbCtx, kind, requestID)
	if err != nil {
		if ic.metrics != nil {
			ic.metrics.PersistErrors.WithLabelValues("dedup_lookup").Inc()
		}
		return false
	}
	if isDup {
		ic.recordDuplicate(kind, "postgres")
		ic.MarkProcessed(kind, requestID)
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after the request has been applied
func (ic *IdempotencyChecker) MarkProcessed(kind string, requestID string) {
	evicted := ic.lru.Add(DedupKey(kind, requestID))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	}
}

// Warm loads composite keys recorded before a restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the cached keys, most recent first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) recordDuplicate(kind, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(kind, tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe; only the dispatcher goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key or promotes it. It reports whether an older key was
// evicted to make room.
func (lru *IdempotencyLRU) Add(key string) bool {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return false
	}
	lru.cache[key] = lru.lruList.PushFront(key)

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
		return true
	}
	return false
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads keys given most recent first, so the first key ends
// up at the front.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		lru.Add(keys[i])
	}
}

// Keys returns every cached key, most recent first.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
