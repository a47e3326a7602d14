package pool

import (
	"context"
	"reflect"
	"testing"

	"github.com/wippyai/runtime-pool/image"
	_ "github.com/wippyai/runtime-pool/image/embedded"
)

// These tests run the pool against real loaded images rather than fakes.

func TestPool_EmbeddedImageEndToEnd(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	s := p.AcquireSession()
	defer s.Close()

	m, err := s.CreateMovable(ctx, "cross-instance")
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	defer m.Close()

	for i := 0; i < p.Size(); i++ {
		s2, v, err := m.AcquireSession(ctx, p.Instance(i))
		if err != nil {
			t.Fatalf("resolve on instance %d: %v", i, err)
		}
		if v.Unwrap() != "cross-instance" {
			t.Errorf("instance %d resolved %v", i, v.Unwrap())
		}
		s2.Close()
	}
}

func TestPool_EmbeddedImageLeakAccounting(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	s := p.AcquireSession()
	defer s.Close()

	m, err := s.CreateMovable(ctx, uint64(99))
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	if _, err := s.FromMovable(ctx, m); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	inst, ok := p.Instance(0).ctrl.(image.Instrumented)
	if !ok {
		t.Fatal("image control should be instrumented")
	}
	if n, err := inst.LiveCount(ctx); err != nil || n != 1 {
		t.Fatalf("guest live count = %d (%v), want 1", n, err)
	}

	m.Close()
	if n, err := inst.LiveCount(ctx); err != nil || n != 0 {
		t.Errorf("guest live count after handle close = %d (%v), want 0", n, err)
	}
}

func TestMethodWrapper_ArgumentNames(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer p.Close(ctx)

	s := p.AcquireSession()
	defer s.Close()

	callable := image.Callable{Name: "forward", Params: []string{"self", "input", "mask"}}
	m, err := s.CreateMovable(ctx, callable)
	if err != nil {
		t.Fatalf("create movable: %v", err)
	}
	defer m.Close()

	names, err := NewMethodWrapper(m).ArgumentNames(ctx)
	if err != nil {
		t.Fatalf("argument names: %v", err)
	}
	if want := []string{"self", "input", "mask"}; !reflect.DeepEqual(names, want) {
		t.Errorf("argument names = %v, want %v", names, want)
	}
}
