package image

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/runtime-pool/errors"
)

// FindModule resolves a virtual module name to source text. Installed by
// the pool so every instance's import mechanism is satisfied from the
// shared registry instead of the filesystem.
type FindModule func(name string) (src string, ok bool)

// Func is a callable looked up inside a runtime instance.
type Func interface {
	Call(ctx context.Context, args ...any) (any, error)
}

// Value is a live value materialized inside one runtime instance. It is
// only meaningful on the instance that produced it.
type Value interface {
	Unwrap() any
}

// Callable describes a callable value whose parameter names can be
// introspected through the argument-names helper module.
type Callable struct {
	Name   string   `cbor:"name"`
	Params []string `cbor:"params"`
}

// Control is the opaque runtime-control capability obtained through an
// image's single well-known factory export. No concrete layout beyond this
// interface may be assumed.
//
// Controls are not safe for unsynchronized concurrent use; the pool layer
// provides the required instance-local locking.
type Control interface {
	// BindFinder installs the resolver consulted when guest code imports
	// a module the image does not carry.
	BindFinder(fn FindModule)
	// Define binds a named property readable by instance-local code.
	Define(ctx context.Context, name string, value any) error
	// Lookup resolves a function from a virtual module.
	Lookup(ctx context.Context, module, name string) (Func, error)
	// Serialize turns a value into an immutable payload that any other
	// instance of the same pool can materialize.
	Serialize(ctx context.Context, v any) ([]byte, error)
	// Deserialize materializes a payload into a live value on this instance.
	Deserialize(ctx context.Context, data []byte) (Value, error)
	// Release drops a value previously returned by Deserialize.
	Release(ctx context.Context, v Value) error
	// Close finalizes the runtime behind the control. Must be called
	// before the owning image is unmapped.
	Close(ctx context.Context) error
}

// Instrumented is implemented by controls that can report how many
// materialized values their runtime currently tracks.
type Instrumented interface {
	LiveCount(ctx context.Context) (int64, error)
}

// IndexProperty is the property name under which the pool records each
// instance's own slot index, so instance-local code can report which slot
// it occupies when partitioning work.
const IndexProperty = "index"

// wazeroControl drives a loaded wazero image through its exports. Values
// are transported as CBOR envelopes host-side; every materialization is
// registered with the guest's value table so the guest can account for
// live values.
type wazeroControl struct {
	img    *Image
	handle uint64
	finder FindModule
	props  map[string]any

	release   api.Function
	setIndex  api.Function
	valueNew  api.Function
	valueFree api.Function
	liveCount api.Function
}

func newWazeroControl(im *Image, handle uint64) *wazeroControl {
	return &wazeroControl{
		img:       im,
		handle:    handle,
		props:     make(map[string]any),
		release:   im.module.ExportedFunction(releaseExport),
		setIndex:  im.module.ExportedFunction("set-index"),
		valueNew:  im.module.ExportedFunction("value-new"),
		valueFree: im.module.ExportedFunction("value-free"),
		liveCount: im.module.ExportedFunction("live-count"),
	}
}

func (c *wazeroControl) BindFinder(fn FindModule) {
	c.finder = fn
}

func (c *wazeroControl) Define(ctx context.Context, name string, value any) error {
	c.props[name] = value
	if name == IndexProperty && c.setIndex != nil {
		idx, ok := value.(int)
		if !ok {
			return errors.InvalidInput(errors.PhaseBind, "index property must be an int")
		}
		if _, err := c.setIndex.Call(ctx, uint64(idx)); err != nil {
			return errors.Wrap(errors.PhaseBind, errors.KindInstantiation, err, "define index")
		}
	}
	return nil
}

func (c *wazeroControl) Lookup(ctx context.Context, module, name string) (Func, error) {
	if c.finder == nil {
		return nil, errors.Precondition(errors.PhaseSession, "no module finder bound")
	}
	src, ok := c.finder(module)
	if !ok {
		return nil, errors.NotFound(errors.PhaseSession, "module", module)
	}

	ops, err := parseBuiltins(src)
	if err != nil {
		return nil, err
	}
	op, ok := ops[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseSession, "function", module+"."+name)
	}
	return &builtinFunc{ctrl: c, op: op}, nil
}

func (c *wazeroControl) Serialize(ctx context.Context, v any) ([]byte, error) {
	return encodeValue(v)
}

func (c *wazeroControl) Deserialize(ctx context.Context, data []byte) (Value, error) {
	v, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	live := &liveValue{data: v}
	if c.valueNew != nil {
		res, err := c.valueNew.Call(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInstantiation, err, "register value")
		}
		live.guest = res[0]
	}
	return live, nil
}

func (c *wazeroControl) Release(ctx context.Context, v Value) error {
	lv, ok := v.(*liveValue)
	if !ok {
		return errors.InvalidInput(errors.PhaseMaterialize, "value was not produced by this control")
	}
	if lv.guest != 0 && c.valueFree != nil {
		if _, err := c.valueFree.Call(ctx, lv.guest); err != nil {
			return errors.Wrap(errors.PhaseMaterialize, errors.KindInstantiation, err, "release value")
		}
		lv.guest = 0
	}
	return nil
}

func (c *wazeroControl) Close(ctx context.Context) error {
	if c.release == nil {
		return nil
	}
	if _, err := c.release.Call(ctx, c.handle); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "release control")
	}
	c.release = nil
	return nil
}

// LiveCount reports the guest's count of live materialized values.
func (c *wazeroControl) LiveCount(ctx context.Context) (int64, error) {
	if c.liveCount == nil {
		return 0, errors.Unsupported(errors.PhaseMaterialize, "image has no live-count export")
	}
	res, err := c.liveCount.Call(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMaterialize, errors.KindInstantiation, err, "live count")
	}
	return int64(res[0]), nil
}

type liveValue struct {
	data  any
	guest uint64
}

func (v *liveValue) Unwrap() any {
	return v.data
}

// Builtin operation names understood by stub-backed images. Full images
// compile real module source; the core stub only executes declarations of
// the form "builtin <name> = <op>".
const (
	opArgumentNames = "argument-names"
	opIdentity      = "identity"
	opInstanceIndex = "instance-index"
)

// parseBuiltins extracts builtin declarations from module source text.
// Lines: "builtin <name> = <op>", '#' starts a comment.
func parseBuiltins(src string) (map[string]string, error) {
	ops := make(map[string]string)
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rest, ok := strings.CutPrefix(line, "builtin ")
		if !ok {
			return nil, errors.InvalidData(errors.PhaseSession, "unrecognized module source line: "+line)
		}
		name, op, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, errors.InvalidData(errors.PhaseSession, "builtin declaration missing '=': "+line)
		}
		ops[strings.TrimSpace(name)] = strings.TrimSpace(op)
	}
	if len(ops) == 0 {
		return nil, errors.InvalidData(errors.PhaseSession, "module source declares no functions")
	}
	return ops, nil
}

type builtinFunc struct {
	ctrl *wazeroControl
	op   string
}

func (f *builtinFunc) Call(ctx context.Context, args ...any) (any, error) {
	switch f.op {
	case opArgumentNames:
		if len(args) != 1 {
			return nil, errors.InvalidInput(errors.PhaseSession, "argument-names takes one value")
		}
		v := args[0]
		if lv, ok := v.(Value); ok {
			v = lv.Unwrap()
		}
		switch c := v.(type) {
		case Callable:
			return c.Params, nil
		case *Callable:
			return c.Params, nil
		}
		return nil, errors.InvalidInput(errors.PhaseSession, "value is not callable")
	case opIdentity:
		if len(args) != 1 {
			return nil, errors.InvalidInput(errors.PhaseSession, "identity takes one value")
		}
		if lv, ok := args[0].(Value); ok {
			return lv.Unwrap(), nil
		}
		return args[0], nil
	case opInstanceIndex:
		return f.ctrl.props[IndexProperty], nil
	default:
		return nil, errors.Unsupported(errors.PhaseSession, "builtin "+f.op)
	}
}
