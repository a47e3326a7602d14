package pool

import (
	"context"
	"fmt"

	"github.com/wippyai/runtime-pool/errors"
)

// ArgumentNamesModule is the virtual module pre-registered in every pool
// that backs parameter-name introspection.
const ArgumentNamesModule = "argnames"

const argumentNamesSource = "# parameter-name introspection helper\n" +
	"builtin getArgumentNames = argument-names\n"

// MethodWrapper exposes a movable callable through the pool. Parameter
// names are resolved through a session against the pre-registered helper
// module, never against a filesystem-resident module.
type MethodWrapper struct {
	model *Movable
}

// NewMethodWrapper wraps a movable bound to a callable value.
func NewMethodWrapper(model *Movable) *MethodWrapper {
	return &MethodWrapper{model: model}
}

// ArgumentNames materializes the callable on a balanced instance and asks
// the helper module for its declared parameter names.
func (w *MethodWrapper) ArgumentNames(ctx context.Context) ([]string, error) {
	s, v, err := w.model.AcquireSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	fn, err := s.Lookup(ctx, ArgumentNamesModule, "getArgumentNames")
	if err != nil {
		return nil, err
	}
	res, err := fn.Call(ctx, v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseSession, errors.KindInvalidData, err, "introspect argument names")
	}

	switch names := res.(type) {
	case []string:
		return names, nil
	case []any:
		out := make([]string, len(names))
		for i, n := range names {
			s, ok := n.(string)
			if !ok {
				return nil, errors.InvalidData(errors.PhaseSession,
					fmt.Sprintf("argument name %d is %T, not a string", i, n))
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, errors.InvalidData(errors.PhaseSession,
			fmt.Sprintf("helper returned %T, not a name list", res))
	}
}
