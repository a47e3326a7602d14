package pool

import (
	"context"
	"sync/atomic"

	"github.com/wippyai/runtime-pool/image"
)

// Movable is a reference-counted handle to a value that can be lazily
// re-materialized inside any instance of the pool that minted it. The
// serialized payload is immutable; the live materializations are
// per-instance cache entries owned by the instances, not by the handle.
type Movable struct {
	impl   *movableImpl
	closed bool
}

type movableImpl struct {
	pool    *Pool
	id      uint64
	payload []byte
	refs    atomic.Int64
}

func newMovable(p *Pool, payload []byte) *Movable {
	m := &Movable{impl: &movableImpl{pool: p, id: p.nextID(), payload: payload}}
	m.impl.refs.Store(1)
	return m
}

// ID is the pool-scoped object id. Ids are strictly increasing and never
// reused for the lifetime of the pool.
func (m *Movable) ID() uint64 {
	return m.impl.id
}

// Payload returns a copy of the immutable serialized payload, suitable for
// embedding in a package archive.
func (m *Movable) Payload() []byte {
	out := make([]byte, len(m.impl.payload))
	copy(out, m.impl.payload)
	return out
}

// Clone returns a second handle to the same object. Every handle must be
// closed; the object survives until the last one is.
func (m *Movable) Clone() *Movable {
	m.impl.refs.Add(1)
	return &Movable{impl: m.impl}
}

// Close drops this handle. Closing the last handle broadcasts an unload
// across the whole pool, which is the sole path by which stale
// materializations are reclaimed; defer it so the release runs on every
// exit path. Close is idempotent per handle.
func (m *Movable) Close() {
	if m.closed {
		return
	}
	m.closed = true
	if m.impl.refs.Add(-1) == 0 {
		_ = m.impl.unload(context.Background(), nil)
	}
}

// Unload evicts this object's cached materialization from the target
// instance, or from every instance when target is nil. Unloading where
// nothing is materialized is a no-op, never an error.
func (m *Movable) Unload(ctx context.Context, target *Instance) error {
	return m.impl.unload(ctx, target)
}

func (mi *movableImpl) unload(ctx context.Context, target *Instance) error {
	if mi.pool.closed.Load() {
		// Pool teardown already evicted everything.
		return nil
	}
	if target == nil {
		var first error
		for _, inst := range mi.pool.instances {
			if err := mi.unload(ctx, inst); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	s := target.AcquireSession()
	defer s.Close()
	return target.unload(ctx, mi.id)
}

// AcquireSession borrows an instance (the given one, or a balanced pick
// when target is nil) and materializes this object on it. The returned
// value is only valid while the instance holds it.
func (m *Movable) AcquireSession(ctx context.Context, target *Instance) (*Session, image.Value, error) {
	var s *Session
	if target != nil {
		s = target.AcquireSession()
	} else {
		s = m.impl.pool.acquireOne()
	}
	v, err := s.FromMovable(ctx, m)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, v, nil
}
