package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseImage       Phase = "image"       // embedded image discovery and staging
	PhaseLoad        Phase = "load"        // native image loading
	PhaseBind        Phase = "bind"        // export lookup and hook invocation
	PhasePool        Phase = "pool"        // pool construction and teardown
	PhaseSession     Phase = "session"     // session-scoped operations
	PhaseMaterialize Phase = "materialize" // movable serialize/deserialize
	PhasePackage     Phase = "package"     // package archive loading
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindSymbolMissing Kind = "symbol_missing"
	KindPrecondition  Kind = "precondition"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindIO            Kind = "io"
	KindInstantiation Kind = "instantiation"
	KindClosed        Kind = "closed"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Symbol string
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(fmt.Sprintf("%q", e.Symbol))
	}

	if e.Detail != "" {
		if e.Symbol != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op names the outer operation that was in progress
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Symbol sets the symbol or export name involved
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates an error for a missing named entity
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// SymbolMissing creates an error for a required export or embedded symbol
// that did not resolve. These failures are fatal for instance bring-up.
func SymbolMissing(phase Phase, symbol, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindSymbolMissing,
		Symbol: symbol,
		Detail: detail,
	}
}

// Precondition creates a precondition violation error, reported
// synchronously at the call site
func Precondition(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPrecondition,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Closed reports use of an already torn-down object
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Load wraps a native image loading failure
func Load(op string, cause error) *Error {
	return &Error{
		Phase: PhaseLoad,
		Kind:  KindInstantiation,
		Op:    op,
		Cause: cause,
	}
}

// IO wraps a filesystem failure during image staging
func IO(phase Phase, op string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindIO,
		Op:    op,
		Cause: cause,
	}
}

// Wrap wraps an existing error with the operation that was in progress.
// Used at the pool/session boundary so runtime errors surface with
// enough context to identify the failing operation.
func Wrap(phase Phase, kind Kind, cause error, op string) *Error {
	return &Error{
		Phase: phase,
		Kind:  kind,
		Op:    op,
		Cause: cause,
	}
}
