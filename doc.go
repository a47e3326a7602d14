// Package runtimepool runs several isolated embedded runtime instances
// inside one host process and spreads work across them.
//
// Each instance loads its own copy of an embedded runtime image, so state
// that the runtime itself cannot share safely (module caches, global
// registries, interned values) stays private per instance. A lock-free
// balancer hands out sessions, and movable objects carry values between
// instances through an immutable serialized payload with per-instance
// lazy materialization.
//
// # Architecture Overview
//
// The library is organized into a small set of packages:
//
//	runtime-pool/
//	├── pool/            Pool, LoadBalancer, Session, Movable, packages
//	├── image/           Embedded image discovery, loading, and control
//	│   └── embedded/    Built-in image registration (blank import)
//	├── errors/          Structured error types for debugging
//	└── cmd/poolrun/     CLI and interactive pool console
//
// # Quick Start
//
// Bring up a pool and move a value across instances:
//
//	p, err := pool.New(ctx, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	sess := p.AcquireSession()
//	m, err := sess.CreateMovable(ctx, payload)
//	sess.Close()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	other := p.Instance(2).AcquireSession()
//	defer other.Close()
//	v, err := other.FromMovable(ctx, m)
//
// The built-in image must be linked into the binary:
//
//	import _ "github.com/wippyai/runtime-pool/image/embedded"
//
// # Thread Safety
//
// Pool, LoadBalancer, and Movable are safe for concurrent use. Session is
// NOT thread-safe and should be used by a single goroutine; acquire one
// session per goroutine instead of sharing.
//
// # Instance Isolation
//
// Isolated image variants get a private runtime per instance; non-isolated
// variants share a compilation cache but never execution state. Memory held
// by a materialized value is only reclaimed when the movable is unloaded
// from that instance or closed everywhere.
package runtimepool
