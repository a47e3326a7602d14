package image

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/runtime-pool/errors"
)

// Well-known exports every runtime image must or may provide.
const (
	factoryExport   = "runtime-new"  // required: returns the control handle
	releaseExport   = "runtime-free" // required: finalizes the control handle
	bindSelfExport  = "bind-self"    // isolated variants only, invoked once after load
	flushLibsExport = "flush-libs"   // isolated variants only, invoked during teardown
)

// Options configures image loading.
type Options struct {
	// KeepTempFile leaves the staged image file on disk instead of
	// unlinking it right after load, so an external debugger can still
	// resolve symbols against it.
	KeepTempFile bool
}

// Image is one loaded copy of the embedded runtime image. Each Load call
// stages its own copy, so every Image has private execution state.
type Image struct {
	variant Variant
	path    string // non-empty only when Options.KeepTempFile was set
	runtime wazero.Runtime
	module  api.Module
	token   uint64
	closed  bool
}

var tokenCounter atomic.Uint64

var (
	cacheOnce sync.Once
	cache     wazero.CompilationCache
)

// processCache is the shared compilation scope used by variants that do not
// require isolated resolution.
func processCache() wazero.CompilationCache {
	cacheOnce.Do(func() {
		cache = wazero.NewCompilationCache()
	})
	return cache
}

// Load discovers the most capable embedded image variant, stages it to a
// transient file, and loads it as a native image. The staged file is
// unlinked as soon as its contents are read back, so only the in-memory
// copy persists. Isolated variants get a private resolution scope and have
// their bind-self hook invoked with the image's own load token.
func Load(ctx context.Context, opts *Options) (*Image, error) {
	if opts == nil {
		opts = &Options{}
	}

	variant, data, err := discover()
	if err != nil {
		return nil, err
	}

	staged, path, err := stage(data, opts.KeepTempFile)
	if err != nil {
		return nil, err
	}

	var rt wazero.Runtime
	if variant.Isolated {
		// Private scope: nothing compiled here is visible to, or resolved
		// from, any other instance.
		rt = wazero.NewRuntime(ctx)
	} else {
		rt = wazero.NewRuntimeWithConfig(ctx,
			wazero.NewRuntimeConfig().WithCompilationCache(processCache()))
	}

	token := tokenCounter.Add(1)

	compiled, err := rt.CompileModule(ctx, staged)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("compile image", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(fmt.Sprintf("%s.%d", variant.Symbol, token)))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Load("instantiate image", err)
	}

	img := &Image{
		variant: variant,
		path:    path,
		runtime: rt,
		module:  mod,
		token:   token,
	}

	if variant.Isolated {
		bind := mod.ExportedFunction(bindSelfExport)
		if bind == nil {
			_ = rt.Close(ctx)
			return nil, errors.SymbolMissing(errors.PhaseBind, bindSelfExport,
				"required by isolated image variants")
		}
		if _, err := bind.Call(ctx, token); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Wrap(errors.PhaseBind, errors.KindInstantiation, err, "bind self")
		}
	}

	Logger().Debug("image loaded",
		zap.String("variant", variant.Symbol),
		zap.Bool("isolated", variant.Isolated),
		zap.Uint64("token", token))

	return img, nil
}

// stage copies the image bytes verbatim into a freshly created temporary
// file, reads them back through the open descriptor, and unlinks the path
// unless keep is set. Returning the read-back copy keeps the load path
// identical whether or not the file survives.
func stage(data []byte, keep bool) ([]byte, string, error) {
	f, err := os.CreateTemp("", "runtime-image-*.wasm")
	if err != nil {
		return nil, "", errors.IO(errors.PhaseImage, "create temp image", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return nil, "", errors.IO(errors.PhaseImage, "write temp image", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(name)
		return nil, "", errors.IO(errors.PhaseImage, "rewind temp image", err)
	}
	staged, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		os.Remove(name)
		return nil, "", errors.IO(errors.PhaseImage, "read temp image", err)
	}

	if keep {
		return staged, name, nil
	}
	os.Remove(name)
	return staged, "", nil
}

// Variant reports which embedded build this image was loaded from.
func (im *Image) Variant() Variant {
	return im.variant
}

// Token is the load handle passed to the image's bind-self hook.
func (im *Image) Token() uint64 {
	return im.token
}

// Path is the staged file location, or empty when the file was unlinked.
func (im *Image) Path() string {
	return im.path
}

// NewControl invokes the image's factory export and wraps the returned
// opaque handle. A missing factory or release export is fatal.
func (im *Image) NewControl(ctx context.Context) (Control, error) {
	factory := im.module.ExportedFunction(factoryExport)
	if factory == nil {
		return nil, errors.SymbolMissing(errors.PhaseBind, factoryExport,
			"image has no factory export")
	}
	if im.module.ExportedFunction(releaseExport) == nil {
		return nil, errors.SymbolMissing(errors.PhaseBind, releaseExport,
			"image has no release export")
	}

	res, err := factory.Call(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBind, errors.KindInstantiation, err, "invoke factory")
	}
	if len(res) == 0 {
		return nil, errors.InvalidData(errors.PhaseBind, "factory returned no handle")
	}

	return newWazeroControl(im, res[0]), nil
}

// Close unmaps the image. The runtime control obtained from NewControl must
// already be closed so the runtime can finalize before its backing code
// disappears; for isolated variants the flush-libs hook runs first so
// cached extension state is released. Reversing this order is not safe.
func (im *Image) Close(ctx context.Context) error {
	if im.closed {
		return nil
	}
	im.closed = true

	if im.variant.Isolated {
		if flush := im.module.ExportedFunction(flushLibsExport); flush != nil {
			if _, err := flush.Call(ctx); err != nil {
				Logger().Warn("flush-libs hook failed", zap.Error(err))
			}
		}
	}

	err := im.module.Close(ctx)
	if cerr := im.runtime.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
