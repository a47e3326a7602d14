// Package errors provides structured error types for the runtime-pool library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the symbol involved, the outer operation
// in progress, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBind, errors.KindSymbolMissing).
//		Symbol("runtime-new").
//		Detail("image has no factory export").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SymbolMissing(errors.PhaseBind, "bind-self", "required for isolated images")
//	err := errors.Precondition(errors.PhaseSession, "session has no pool")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
