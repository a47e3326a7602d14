package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/runtime-pool/errors"
	"github.com/wippyai/runtime-pool/image"
)

// Instance owns one loaded copy of the runtime image and its private
// execution state. Instances exist from pool construction to pool teardown
// and are only reached through sessions.
type Instance struct {
	pool  *Pool
	index int
	img   *image.Image // nil when the control came from a custom factory
	ctrl  image.Control

	// mu guards the materialization cache. It is held across the
	// deserialize so a resolve is atomic with respect to a concurrent
	// unload of the same id on this instance.
	mu           sync.Mutex
	materialized map[uint64]image.Value
}

// Index is the pool-assigned slot this instance occupies.
func (i *Instance) Index() int {
	return i.index
}

// AcquireSession pins a session to this specific instance, bypassing the
// balancer. Pinned sessions cannot mint movables; use Pool.AcquireSession
// for that.
func (i *Instance) AcquireSession() *Session {
	return &Session{instance: i}
}

// Materialized reports how many movable payloads are currently cached on
// this instance.
func (i *Instance) Materialized() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.materialized)
}

// LiveValues reports the runtime's own count of live guest values when the
// control supports instrumentation, and -1 otherwise.
func (i *Instance) LiveValues(ctx context.Context) (int64, error) {
	in, ok := i.ctrl.(image.Instrumented)
	if !ok {
		return -1, nil
	}
	return in.LiveCount(ctx)
}

// resolve returns the cached materialization for id, deserializing the
// payload and caching it on first use.
func (i *Instance) resolve(ctx context.Context, id uint64, payload []byte) (image.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if v, ok := i.materialized[id]; ok {
		return v, nil
	}
	v, err := i.ctrl.Deserialize(ctx, payload)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "resolve movable")
	}
	i.materialized[id] = v
	return v, nil
}

// unload evicts the cached materialization for id. Unloading an id that is
// not materialized here is a no-op, never an error.
func (i *Instance) unload(ctx context.Context, id uint64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, ok := i.materialized[id]
	if !ok {
		return nil
	}
	delete(i.materialized, id)
	return i.ctrl.Release(ctx, v)
}

// close tears the instance down in the required order: evict every
// materialization, close the control so the runtime can finalize, and only
// then unmap the image.
func (i *Instance) close(ctx context.Context) error {
	i.mu.Lock()
	for id, v := range i.materialized {
		delete(i.materialized, id)
		if err := i.ctrl.Release(ctx, v); err != nil {
			Logger().Warn("release materialization during teardown",
				zap.Uint64("id", id), zap.Int("instance", i.index), zap.Error(err))
		}
	}
	i.mu.Unlock()

	err := i.ctrl.Close(ctx)
	if i.img != nil {
		if cerr := i.img.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
