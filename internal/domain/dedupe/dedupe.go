// Package dedupe guards metered operations so that each operation id is
// recorded at most once, even when the caller double submits.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

// Guard records operation ids to ensure at-most-once usage recording.
type Guard interface {
	// SeenAndRecord atomically checks if the operation was seen and records it if not.
	// Returns true if it was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, identityKey, operationID string) bool

	// Unrecord forgets an operation so that a failed recording can be retried.
	Unrecord(ctx context.Context, identityKey, operationID string)

	// Forget drops every operation recorded for identityKey (used by resets).
	Forget(ctx context.Context, identityKey string)

	Size() int64
}

type entry struct {
	identityKey string
	key         string
}

// operationGuard keeps the most recent maxSize operations; the oldest is
// evicted first. maxSize <= 0 means unbounded.
type operationGuard struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int
}

// NewOperationGuard creates an in-memory guard.
func NewOperationGuard(opts ...Option) Guard {
	g := &operationGuard{maxSize: 10_000}
	for _, opt := range opts {
		opt(g)
	}
	g.seen = make(map[string]*list.Element)
	g.order = list.New()
	return g
}

func operationKey(identityKey, operationID string) string {
	return identityKey + "\x00" + operationID
}

func (g *operationGuard) SeenAndRecord(_ context.Context, identityKey, operationID string) bool {
	key := operationKey(identityKey, operationID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return true
	}
	if g.maxSize > 0 && g.order.Len() >= g.maxSize {
		g.evictOldest()
	}
	g.seen[key] = g.order.PushFront(entry{identityKey: identityKey, key: key})
	return false
}

func (g *operationGuard) Unrecord(_ context.Context, identityKey, operationID string) {
	key := operationKey(identityKey, operationID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.seen[key]; ok {
		g.order.Remove(el)
		delete(g.seen, key)
	}
}

func (g *operationGuard) Forget(_ context.Context, identityKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for el := g.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(entry)
		if identityKey == "" || e.identityKey == identityKey {
			g.order.Remove(el)
			delete(g.seen, e.key)
		}
		el = next
	}
}

// evictOldest must be called with g.mu held.
func (g *operationGuard) evictOldest() {
	el := g.order.Back()
	if el == nil {
		return
	}
	g.order.Remove(el)
	delete(g.seen, el.Value.(entry).key)
}

// Size returns the current number of recorded operations.
func (g *operationGuard) Size() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.order.Len())
}
