package pool

import (
	"context"

	"github.com/wippyai/runtime-pool/errors"
	"github.com/wippyai/runtime-pool/image"
)

// Session is a scoped, single-use grant of access to one runtime instance.
// Sessions are not safe for concurrent use and must not be copied; create
// one per goroutine and defer Close.
type Session struct {
	pool     *Pool // nil when pinned to an instance explicitly
	instance *Instance
	balanced bool
	released bool
}

// Close releases the session. A balanced session frees its balancer slot
// exactly once; a pinned session releases nothing. Close is idempotent.
func (s *Session) Close() {
	if s.released {
		return
	}
	s.released = true
	if s.balanced {
		s.pool.balancer.Free(s.instance.index)
	}
}

// Instance returns the instance this session is bound to.
func (s *Session) Instance() *Instance {
	return s.instance
}

// Lookup resolves a function from a virtual module on the bound instance.
func (s *Session) Lookup(ctx context.Context, module, name string) (image.Func, error) {
	return s.instance.ctrl.Lookup(ctx, module, name)
}

// CreateMovable serializes value into an immutable payload and wraps it in
// a new handle carrying the next pool-scoped object id. Only sessions
// acquired through a pool can mint ids; a session pinned to an instance
// directly has no pool and fails the precondition.
func (s *Session) CreateMovable(ctx context.Context, value any) (*Movable, error) {
	if s.pool == nil {
		return nil, errors.Precondition(errors.PhaseSession,
			"can only create a movable when the session was acquired through a pool")
	}
	payload, err := s.instance.ctrl.Serialize(ctx, value)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "create movable")
	}
	return newMovable(s.pool, payload), nil
}

// FromMovable materializes m on this session's instance, reusing the
// instance's cached materialization when one exists.
func (s *Session) FromMovable(ctx context.Context, m *Movable) (image.Value, error) {
	return s.instance.resolve(ctx, m.impl.id, m.impl.payload)
}
