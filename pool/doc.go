// Package pool runs several isolated runtime instances inside one process
// and spreads work across them.
//
// # Quick Start
//
//	ctx := context.Background()
//	p, err := pool.New(ctx, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	s := p.AcquireSession()
//	defer s.Close()
//
//	m, err := s.CreateMovable(ctx, myValue)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	// Materialize the value on any instance, same or different.
//	s2, v, err := m.AcquireSession(ctx, nil)
//	defer s2.Close()
//
// # Sessions
//
// A session is a scoped grant of access to one instance. Balanced sessions
// come from Pool.AcquireSession and release their balancer slot on Close;
// pinned sessions come from Instance.AcquireSession and touch the balancer
// not at all. Sessions are single-goroutine objects.
//
// # Movables
//
// CreateMovable serializes a value once into an immutable payload and
// assigns it a pool-scoped id. Any instance materializes the payload
// lazily, exactly once, into a per-instance cache. Handles are reference
// counted: Clone to share, Close every handle, and the last Close
// broadcasts an unload that evicts the cached materialization everywhere.
//
// # Module sources
//
// The pool keeps a process-wide registry of virtual module sources shared
// by all instances. Register everything before instances start handling
// concurrent work; the registry is not internally synchronized.
//
// # Concurrency
//
// Multiple goroutines may use the pool concurrently. Acquire and Free are
// lock-free; balancer counters are an approximate view of load, good for
// distribution quality only. Materialization caches are guarded per
// instance so a resolve cannot race a targeted unload of the same id.
package pool
