package image

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/runtime-pool/errors"
)

// Payload envelope kinds.
const (
	kindCallable = "callable"
	kindValue    = "value"
)

type envelope struct {
	Kind     string          `cbor:"k"`
	Callable *Callable       `cbor:"c,omitempty"`
	Raw      cbor.RawMessage `cbor:"v,omitempty"`
}

// encodeValue serializes a value into an immutable CBOR payload. Callables
// keep their declared shape so any instance can introspect them after
// materialization.
func encodeValue(v any) ([]byte, error) {
	if lv, ok := v.(Value); ok {
		v = lv.Unwrap()
	}

	env := envelope{Kind: kindValue}
	switch c := v.(type) {
	case Callable:
		env.Kind = kindCallable
		env.Callable = &c
	case *Callable:
		env.Kind = kindCallable
		env.Callable = c
	default:
		raw, err := cbor.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "serialize value")
		}
		env.Raw = raw
	}

	data, err := cbor.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "serialize envelope")
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "deserialize envelope")
	}

	switch env.Kind {
	case kindCallable:
		if env.Callable == nil {
			return nil, errors.InvalidData(errors.PhaseMaterialize, "callable payload missing body")
		}
		return env.Callable, nil
	case kindValue:
		var v any
		if env.Raw != nil {
			if err := cbor.Unmarshal(env.Raw, &v); err != nil {
				return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err, "deserialize value")
			}
		}
		return v, nil
	default:
		return nil, errors.InvalidData(errors.PhaseMaterialize, "unknown payload kind "+env.Kind)
	}
}
