package image

import (
	"sync"

	"github.com/wippyai/runtime-pool/errors"
)

// Variant identifies one embedded runtime image build.
type Variant struct {
	// Symbol is the name the image bytes are registered under.
	Symbol string
	// Isolated reports whether this build requires a private
	// symbol-resolution scope of its own.
	Isolated bool
}

// Image variant symbols, most capable build first. Discovery walks this
// list in order and selects the first symbol that resolves.
const (
	SymbolFull  = "runtime_image_full"
	SymbolAccel = "runtime_image_accel"
	SymbolCore  = "runtime_image_core"
)

var searchPath = []Variant{
	{Symbol: SymbolFull, Isolated: true},
	{Symbol: SymbolAccel, Isolated: false},
	{Symbol: SymbolCore, Isolated: false},
}

var (
	symbolsMu sync.RWMutex
	symbols   = make(map[string][]byte)
)

// Register publishes an embedded image byte range under a symbol name.
// Image-carrying packages call this from init, so importing such a package
// is the build-time dependency that makes a variant discoverable.
func Register(symbol string, data []byte) {
	symbolsMu.Lock()
	defer symbolsMu.Unlock()
	symbols[symbol] = data
}

func lookupSymbol(symbol string) ([]byte, bool) {
	symbolsMu.RLock()
	defer symbolsMu.RUnlock()
	data, ok := symbols[symbol]
	return data, ok
}

// discover selects the first variant in the search path whose symbol
// resolves. Bring-up cannot proceed without one.
func discover() (Variant, []byte, error) {
	for _, v := range searchPath {
		if data, ok := lookupSymbol(v.Symbol); ok {
			return v, data, nil
		}
	}
	return Variant{}, nil, errors.New(errors.PhaseImage, errors.KindSymbolMissing).
		Symbol(SymbolCore).
		Detail("no embedded runtime image found; an accelerator image (%s) was expected when built with accelerator support", SymbolAccel).
		Build()
}
