package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/runtime-pool/errors"
	"github.com/wippyai/runtime-pool/image"
)

// ControlFactory produces the runtime control for one instance slot. The
// returned image may be nil when the control is not image-backed (tests,
// external engines); when present the pool owns its teardown.
type ControlFactory func(ctx context.Context, index int) (image.Control, *image.Image, error)

type config struct {
	imageOptions image.Options
	factory      ControlFactory
}

// Option configures pool construction.
type Option func(*config)

// WithImageOptions forwards options to the per-instance image load.
func WithImageOptions(opts image.Options) Option {
	return func(c *config) {
		c.imageOptions = opts
	}
}

// WithControlFactory replaces the default image-backed instance
// construction.
func WithControlFactory(f ControlFactory) Option {
	return func(c *config) {
		c.factory = f
	}
}

// Pool owns a fixed set of runtime instances and mediates all access to
// them. It is the only entry point for obtaining sessions and for minting
// movable object ids.
type Pool struct {
	instances []*Instance
	balancer  *LoadBalancer

	// nextObjectID mints movable ids: strictly increasing, never reused,
	// even across movable destruction.
	nextObjectID atomic.Uint64

	// moduleSources maps virtual module names to source text and is shared
	// by every instance. Registration is deliberately unsynchronized:
	// register everything before instances handle concurrent work, or
	// synchronize externally.
	moduleSources map[string]string

	packages       singleflight.Group
	packageMu      sync.Mutex
	loadedPackages map[string]*Package

	closed atomic.Bool
}

// New constructs a pool of n instances. Each instance loads its own copy
// of the embedded image, learns its own slot index as a readable property,
// and resolves virtual module imports from the pool's shared registry. Any
// bring-up failure tears down what was built and returns the error; a
// partially usable pool is never returned.
func New(ctx context.Context, n int, opts ...Option) (*Pool, error) {
	if n <= 0 {
		return nil, errors.InvalidInput(errors.PhasePool, fmt.Sprintf("pool size must be positive, got %d", n))
	}

	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.factory == nil {
		imageOptions := cfg.imageOptions
		cfg.factory = func(ctx context.Context, index int) (image.Control, *image.Image, error) {
			img, err := image.Load(ctx, &imageOptions)
			if err != nil {
				return nil, nil, err
			}
			ctrl, err := img.NewControl(ctx)
			if err != nil {
				_ = img.Close(ctx)
				return nil, nil, err
			}
			return ctrl, img, nil
		}
	}

	p := &Pool{
		balancer:       NewLoadBalancer(n),
		moduleSources:  make(map[string]string),
		loadedPackages: make(map[string]*Package),
	}
	// Built-in helper consulted by the argument-name introspection wrapper.
	p.moduleSources[ArgumentNamesModule] = argumentNamesSource

	for i := 0; i < n; i++ {
		ctrl, img, err := cfg.factory(ctx, i)
		if err != nil {
			p.abort(ctx)
			return nil, errors.Wrap(errors.PhasePool, errors.KindInstantiation, err,
				fmt.Sprintf("construct instance %d of %d", i, n))
		}

		inst := &Instance{
			pool:         p,
			index:        i,
			img:          img,
			ctrl:         ctrl,
			materialized: make(map[uint64]image.Value),
		}
		ctrl.BindFinder(p.findModuleSource)
		if err := ctrl.Define(ctx, image.IndexProperty, i); err != nil {
			_ = inst.close(ctx)
			p.abort(ctx)
			return nil, errors.Wrap(errors.PhasePool, errors.KindInstantiation, err,
				fmt.Sprintf("define index on instance %d", i))
		}
		p.instances = append(p.instances, inst)
	}

	Logger().Debug("pool constructed", zap.Int("instances", n))
	return p, nil
}

// abort tears down instances built so far during a failed New.
func (p *Pool) abort(ctx context.Context) {
	for _, inst := range p.instances {
		if err := inst.close(ctx); err != nil {
			Logger().Warn("teardown after failed bring-up", zap.Int("instance", inst.index), zap.Error(err))
		}
	}
	p.instances = nil
	p.closed.Store(true)
}

// Size returns the number of instances.
func (p *Pool) Size() int {
	return len(p.instances)
}

// Instance returns the instance at slot i.
func (p *Pool) Instance(i int) *Instance {
	return p.instances[i]
}

// RegisterModuleSource makes a virtual module's source text visible to
// every instance from this point forward. Concurrent registration while
// instances are actively running sessions is a caller responsibility; the
// registry itself is not locked.
func (p *Pool) RegisterModuleSource(name, src string) {
	p.moduleSources[name] = src
}

func (p *Pool) findModuleSource(name string) (string, bool) {
	src, ok := p.moduleSources[name]
	return src, ok
}

// AcquireSession borrows an instance chosen by the balancer for the
// caller's scope. Close the session to release the slot.
func (p *Pool) AcquireSession() *Session {
	idx := p.balancer.Acquire()
	return &Session{pool: p, instance: p.instances[idx], balanced: true}
}

// acquireOne backs movable resolution when no explicit target instance was
// given; it is the same balanced acquisition as AcquireSession.
func (p *Pool) acquireOne() *Session {
	return p.AcquireSession()
}

// Balancer exposes the pool's balancer for monitoring.
func (p *Pool) Balancer() *LoadBalancer {
	return p.balancer
}

func (p *Pool) nextID() uint64 {
	return p.nextObjectID.Add(1)
}

// Close evicts every materialization from every instance and tears the
// instances down (control first, image second). Outstanding movable
// handles keep their payloads but can no longer be resolved; closing them
// afterwards is a no-op.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var first error
	for _, inst := range p.instances {
		if err := inst.close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
