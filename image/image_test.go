package image

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	rperrors "github.com/wippyai/runtime-pool/errors"
	"github.com/wippyai/runtime-pool/image/internal/stub"
)

// withSymbols swaps the process symbol registry for the duration of a test.
func withSymbols(t *testing.T, m map[string][]byte) {
	t.Helper()
	symbolsMu.Lock()
	saved := symbols
	symbols = m
	symbolsMu.Unlock()
	t.Cleanup(func() {
		symbolsMu.Lock()
		symbols = saved
		symbolsMu.Unlock()
	})
}

func TestDiscover_NoVariant(t *testing.T) {
	withSymbols(t, map[string][]byte{})

	_, _, err := discover()
	if err == nil {
		t.Fatal("expected discovery to fail with no registered images")
	}
	if !errors.Is(err, &rperrors.Error{Phase: rperrors.PhaseImage, Kind: rperrors.KindSymbolMissing}) {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "accelerator") {
		t.Errorf("diagnostic should name the accelerator capability, got: %v", err)
	}
}

func TestDiscover_MostCapableFirst(t *testing.T) {
	withSymbols(t, map[string][]byte{
		SymbolCore: stub.Module(),
	})
	v, _, err := discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if v.Symbol != SymbolCore || v.Isolated {
		t.Errorf("got variant %+v, want non-isolated core", v)
	}

	withSymbols(t, map[string][]byte{
		SymbolCore: stub.Module(),
		SymbolFull: stub.Module(),
	})
	v, _, err = discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if v.Symbol != SymbolFull || !v.Isolated {
		t.Errorf("got variant %+v, want isolated full variant", v)
	}
}

func TestLoad_CoreVariant(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	if img.Variant().Symbol != SymbolCore {
		t.Errorf("variant = %s, want %s", img.Variant().Symbol, SymbolCore)
	}
	if img.Path() != "" {
		t.Errorf("staged file should be unlinked, got path %q", img.Path())
	}

	ctrl, err := img.NewControl(ctx)
	if err != nil {
		t.Fatalf("new control: %v", err)
	}
	if err := ctrl.Close(ctx); err != nil {
		t.Fatalf("close control: %v", err)
	}
}

func TestLoad_KeepTempFile(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, &Options{KeepTempFile: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	if img.Path() == "" {
		t.Fatal("KeepTempFile should retain the staged path")
	}
	defer os.Remove(img.Path())

	data, err := os.ReadFile(img.Path())
	if err != nil {
		t.Fatalf("staged file should still exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("staged file is empty")
	}
}

func TestLoad_IsolatedBindSelf(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolFull: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	if !img.Variant().Isolated {
		t.Fatal("full variant should be isolated")
	}

	// bind-self must have recorded the image's own load token in the guest.
	res, err := img.module.ExportedFunction(stub.ExportSelfToken).Call(ctx)
	if err != nil {
		t.Fatalf("self-token: %v", err)
	}
	if res[0] != img.Token() {
		t.Errorf("guest self token = %d, want %d", res[0], img.Token())
	}
}

func TestControl_MaterializeAccounting(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	ctrl, err := img.NewControl(ctx)
	if err != nil {
		t.Fatalf("new control: %v", err)
	}
	defer ctrl.Close(ctx)

	payload, err := ctrl.Serialize(ctx, "hello")
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	v, err := ctrl.Deserialize(ctx, payload)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if v.Unwrap() != "hello" {
		t.Errorf("round trip = %v, want hello", v.Unwrap())
	}

	inst := ctrl.(Instrumented)
	if n, _ := inst.LiveCount(ctx); n != 1 {
		t.Errorf("live count = %d, want 1", n)
	}
	if err := ctrl.Release(ctx, v); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := inst.LiveCount(ctx); n != 0 {
		t.Errorf("live count after release = %d, want 0", n)
	}
}

func TestControl_DefineIndex(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	ctrl, err := img.NewControl(ctx)
	if err != nil {
		t.Fatalf("new control: %v", err)
	}
	defer ctrl.Close(ctx)

	if err := ctrl.Define(ctx, IndexProperty, 3); err != nil {
		t.Fatalf("define: %v", err)
	}

	res, err := img.module.ExportedFunction(stub.ExportGetIndex).Call(ctx)
	if err != nil {
		t.Fatalf("get-index: %v", err)
	}
	if res[0] != 3 {
		t.Errorf("guest index = %d, want 3", res[0])
	}
}

func TestControl_LookupBuiltins(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer img.Close(ctx)

	ctrl, err := img.NewControl(ctx)
	if err != nil {
		t.Fatalf("new control: %v", err)
	}
	defer ctrl.Close(ctx)

	if _, err := ctrl.Lookup(ctx, "anything", "fn"); err == nil {
		t.Error("lookup before BindFinder should fail")
	}

	sources := map[string]string{
		"helpers": "# helper module\nbuiltin echo = identity\nbuiltin whoami = instance-index\n",
	}
	ctrl.BindFinder(func(name string) (string, bool) {
		src, ok := sources[name]
		return src, ok
	})

	if _, err := ctrl.Lookup(ctx, "missing", "fn"); err == nil {
		t.Error("lookup of unregistered module should fail")
	}
	if _, err := ctrl.Lookup(ctx, "helpers", "nope"); err == nil {
		t.Error("lookup of undeclared function should fail")
	}

	echo, err := ctrl.Lookup(ctx, "helpers", "echo")
	if err != nil {
		t.Fatalf("lookup echo: %v", err)
	}
	out, err := echo.Call(ctx, "ping")
	if err != nil {
		t.Fatalf("call echo: %v", err)
	}
	if out != "ping" {
		t.Errorf("echo = %v, want ping", out)
	}
}

func TestImage_CloseIdempotent(t *testing.T) {
	withSymbols(t, map[string][]byte{SymbolCore: stub.Module()})
	ctx := context.Background()

	img, err := Load(ctx, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := img.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := img.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
