// Package image loads isolated copies of the embedded runtime image.
//
// A runtime image is shipped inside the host binary as a named byte range.
// Image-carrying packages register their bytes under a variant symbol at
// init time; Load walks an ordered search path (most capable build first)
// and selects the first variant that resolves. The selected bytes are
// copied verbatim into a transient file which is unlinked as soon as it has
// been read back, so only the in-memory mapping persists.
//
// Variants flagged Isolated are loaded into a private symbol-resolution
// scope and have their bind-self hook invoked with the image's own load
// token, so extension code loaded by two instances cannot collide. Every
// image exposes a single factory export that yields an opaque Control; all
// interaction with the running instance goes through that capability.
//
// Teardown order is a hard invariant: close the Control first so the
// runtime can finalize, then Close the Image, which runs the flush-libs
// hook (isolated variants) before unmapping the code.
package image
