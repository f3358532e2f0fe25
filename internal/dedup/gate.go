// Package dedup implements the admission gate that rejects duplicate
// deliveries of the same inbound event. Slack delivers events at-least-once
// and retries on slow acknowledgments, so the webhook consults this gate
// before dispatching any work.
//
// The gate is process-local and capacity-bounded: ids are tracked in an LRU
// set so memory stays bounded no matter how long the process runs. Platform
// redelivery windows are short (minutes), so evicting the oldest ids never
// re-admits an id inside a realistic retry window. It does not protect
// across restarts or between replicas.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the admission set when no capacity is configured.
const DefaultCapacity = 10000

// Gate is a concurrency-safe admit-once set over event identifiers.
// The membership test and insertion happen under one lock, so two
// simultaneous deliveries of the same id can never both be admitted.
type Gate struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]*list.Element
	order    *list.List // front = most recently admitted
}

// NewGate returns a Gate bounded to capacity ids. Non-positive capacities
// fall back to DefaultCapacity.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		capacity: capacity,
		seen:     make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Admit reports whether eventID is seen for the first time. It returns true
// exactly once per distinct id; every later call with the same id returns
// false. An empty id cannot be deduplicated and is never admitted.
func (g *Gate) Admit(eventID string) bool {
	if eventID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.seen[eventID]; ok {
		g.order.MoveToFront(el)
		return false
	}

	g.seen[eventID] = g.order.PushFront(eventID)
	if g.order.Len() > g.capacity {
		oldest := g.order.Back()
		g.order.Remove(oldest)
		delete(g.seen, oldest.Value.(string))
	}
	return true
}

// Len returns the number of ids currently tracked.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}
