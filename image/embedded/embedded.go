// Package embedded registers the core runtime image variant. Importing it
// (usually blank) is the build-time dependency that makes a pool loadable
// without an externally supplied image:
//
//	import _ "github.com/wippyai/runtime-pool/image/embedded"
package embedded

import (
	"github.com/wippyai/runtime-pool/image"
	"github.com/wippyai/runtime-pool/image/internal/stub"
)

func init() {
	image.Register(image.SymbolCore, stub.Module())
}
