package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/runtime-pool/image"
)

// fakeValue is a live value held by a fakeControl.
type fakeValue struct {
	data any
}

func (v *fakeValue) Unwrap() any {
	return v.data
}

// fakeControl is an instrumented in-memory control used to observe pool
// behavior: it counts deserializations and tracks live values so tests can
// assert deserialize-once semantics and leak-free teardown.
type fakeControl struct {
	mu     sync.Mutex
	finder image.FindModule
	props  map[string]any

	deserialized atomic.Int64
	live         atomic.Int64
	closed       atomic.Bool

	deserializeErr error
}

func newFakeControl() *fakeControl {
	return &fakeControl{props: make(map[string]any)}
}

func (c *fakeControl) BindFinder(fn image.FindModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finder = fn
}

func (c *fakeControl) Define(ctx context.Context, name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.props[name] = value
	return nil
}

func (c *fakeControl) Lookup(ctx context.Context, module, name string) (image.Func, error) {
	c.mu.Lock()
	finder := c.finder
	c.mu.Unlock()
	if finder == nil {
		return nil, errors.New("no finder bound")
	}
	if _, ok := finder(module); !ok {
		return nil, errors.New("module not registered: " + module)
	}
	return fakeFunc(func(ctx context.Context, args ...any) (any, error) {
		return args, nil
	}), nil
}

func (c *fakeControl) Serialize(ctx context.Context, v any) ([]byte, error) {
	if lv, ok := v.(image.Value); ok {
		v = lv.Unwrap()
	}
	return cbor.Marshal(v)
}

func (c *fakeControl) Deserialize(ctx context.Context, data []byte) (image.Value, error) {
	if c.deserializeErr != nil {
		return nil, c.deserializeErr
	}
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	c.deserialized.Add(1)
	c.live.Add(1)
	return &fakeValue{data: v}, nil
}

func (c *fakeControl) Release(ctx context.Context, v image.Value) error {
	if _, ok := v.(*fakeValue); !ok {
		return errors.New("foreign value released")
	}
	c.live.Add(-1)
	return nil
}

func (c *fakeControl) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeControl) LiveCount(ctx context.Context) (int64, error) {
	return c.live.Load(), nil
}

type fakeFunc func(ctx context.Context, args ...any) (any, error)

func (f fakeFunc) Call(ctx context.Context, args ...any) (any, error) {
	return f(ctx, args...)
}

// newFakePool builds a pool whose instances use instrumented fake controls
// and returns them alongside.
func newFakePool(ctx context.Context, n int) (*Pool, []*fakeControl, error) {
	controls := make([]*fakeControl, n)
	p, err := New(ctx, n, WithControlFactory(func(ctx context.Context, index int) (image.Control, *image.Image, error) {
		controls[index] = newFakeControl()
		return controls[index], nil, nil
	}))
	return p, controls, err
}
