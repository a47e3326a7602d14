package pool

import (
	"context"
	"errors"
	"testing"

	rperrors "github.com/wippyai/runtime-pool/errors"
	"github.com/wippyai/runtime-pool/image"
)

func TestNew_RejectsZeroSize(t *testing.T) {
	_, err := New(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error for zero-size pool")
	}
	if !errors.Is(err, &rperrors.Error{Phase: rperrors.PhasePool, Kind: rperrors.KindInvalidInput}) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_NoPartialPoolOnFailure(t *testing.T) {
	ctx := context.Background()
	var built []*fakeControl

	_, err := New(ctx, 4, WithControlFactory(func(ctx context.Context, index int) (image.Control, *image.Image, error) {
		if index == 2 {
			return nil, nil, errors.New("bring-up failed")
		}
		c := newFakeControl()
		built = append(built, c)
		return c, nil, nil
	}))
	if err == nil {
		t.Fatal("expected construction to fail")
	}
	if len(built) != 2 {
		t.Fatalf("factory built %d controls before failing, want 2", len(built))
	}
	for i, c := range built {
		if !c.closed.Load() {
			t.Errorf("control %d not torn down after failed bring-up", i)
		}
	}
}

func TestNew_DefinesInstanceIndex(t *testing.T) {
	ctx := context.Background()
	p, controls, err := newFakePool(ctx, 3)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	for i, c := range controls {
		if got := c.props[image.IndexProperty]; got != i {
			t.Errorf("instance %d index property = %v, want %d", i, got, i)
		}
	}
}

func TestPool_ModuleSourceVisibleToAllInstances(t *testing.T) {
	ctx := context.Background()
	p, _, err := newFakePool(ctx, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	p.RegisterModuleSource("shared", "builtin f = identity")

	for i := 0; i < p.Size(); i++ {
		s := p.Instance(i).AcquireSession()
		if _, err := s.Lookup(ctx, "shared", "f"); err != nil {
			t.Errorf("instance %d cannot see registered module: %v", i, err)
		}
		s.Close()
	}
}

func TestPool_ArgnamesModulePreRegistered(t *testing.T) {
	ctx := context.Background()
	p, _, err := newFakePool(ctx, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	if _, ok := p.findModuleSource(ArgumentNamesModule); !ok {
		t.Error("helper module should be pre-registered at construction")
	}
}

func TestPool_ObjectIDsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	p, _, err := newFakePool(ctx, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	var last uint64
	for i := 0; i < 5; i++ {
		s := p.AcquireSession()
		m, err := s.CreateMovable(ctx, i)
		if err != nil {
			t.Fatalf("create movable: %v", err)
		}
		if m.ID() <= last {
			t.Errorf("id %d not greater than previous %d", m.ID(), last)
		}
		last = m.ID()
		// Destroy the handle; the next id must still advance.
		m.Close()
		s.Close()
	}
}

func TestPool_CloseEvictsOutstandingMaterializations(t *testing.T) {
	ctx := context.Background()
	p, controls, err := newFakePool(ctx, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	s := p.AcquireSession()
	m, err := s.CreateMovable(ctx, "resident")
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	if _, err := s.FromMovable(ctx, m); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	s.Close()

	if live := controls[0].live.Load(); live != 1 {
		t.Fatalf("live values before close = %d, want 1", live)
	}

	// Drop the pool while the movable handle is still outstanding.
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close pool: %v", err)
	}
	if live := controls[0].live.Load(); live != 0 {
		t.Errorf("instance leaked %d materializations through teardown", live)
	}
	if !controls[0].closed.Load() {
		t.Error("control not closed during pool teardown")
	}

	// Late destruction of the handle must not observe the torn-down pool.
	m.Close()
}

func TestPool_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _, err := newFakePool(ctx, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
