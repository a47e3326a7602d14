package pool

import (
	"math"
	"sync/atomic"
)

// slot is one usage counter, padded so adjacent counters do not share a
// cache line.
type slot struct {
	users atomic.Int64
	_     [56]byte
}

// LoadBalancer picks which instance slot to hand to the next caller. It is
// entirely lock-free: the counters size concurrency for balancing, they are
// not a lock protecting instance-internal state.
type LoadBalancer struct {
	cursor atomic.Uint32
	slots  []slot
}

// NewLoadBalancer creates a balancer for n instance slots.
func NewLoadBalancer(n int) *LoadBalancer {
	return &LoadBalancer{slots: make([]slot, n)}
}

// Size returns the number of slots.
func (b *LoadBalancer) Size() int {
	return len(b.slots)
}

// Acquire returns an instance index without blocking. The scan starts at a
// rotating cursor and claims the first idle slot it can flip from 0 to 1.
// When no slot is idle it falls back to the slot observed with the fewest
// users; that observation may be stale relative to concurrent activity,
// which is an accepted heuristic, not a correctness requirement.
func (b *LoadBalancer) Acquire() int {
	idx, _ := b.acquire()
	return idx
}

// acquire additionally reports whether the fast path (a genuinely idle
// slot) was taken.
func (b *LoadBalancer) acquire() (int, bool) {
	n := len(b.slots)
	start := int(b.cursor.Add(1)-1) % n

	minUsers := int64(math.MaxInt64)
	minIdx := 0
	for i := 0; i < n; i++ {
		k := start + i
		if k >= n {
			k -= n
		}
		prev := b.slots[k].users.Load()
		if prev == 0 {
			if b.slots[k].users.CompareAndSwap(0, 1) {
				return k, true
			}
			prev = b.slots[k].users.Load()
		}
		if prev < minUsers {
			minUsers = prev
			minIdx = k
		}
	}

	b.slots[minIdx].users.Add(1)
	return minIdx, false
}

// Free releases one use of the given slot.
func (b *LoadBalancer) Free(idx int) {
	b.slots[idx].users.Add(-1)
}

// Users reports the current usage counter of a slot. The value may be
// stale by the time the caller reads it; use for monitoring only.
func (b *LoadBalancer) Users(idx int) int64 {
	return b.slots[idx].users.Load()
}
