package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Is and As re-export the standard library matchers so callers of this
// package do not need a second errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Phase indicates which bridge operation the error occurred in
type Phase string

const (
	PhaseWrap      Phase = "wrap"      // wrapper lookup/creation
	PhaseAttach    Phase = "attach"    // dealloc observer installation
	PhaseAttribute Phase = "attribute" // attribute store operations
	PhaseDealloc   Phase = "dealloc"   // native teardown path
	PhaseRuntime   Phase = "runtime"   // native runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindStaleHandle       Kind = "stale_handle"       // object already deallocated
	KindAttachment        Kind = "attachment"         // observer could not be installed
	KindInvalidHandle     Kind = "invalid_handle"     // zero or never-valid handle
	KindRefcountUnderflow Kind = "refcount_underflow" // release without matching retain
	KindAlreadyClosed     Kind = "already_closed"     // runtime or heap shut down
	KindNotFound          Kind = "not_found"          // named attribute absent
	KindAllocation        Kind = "allocation"         // heap space exhausted
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Handle uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle 0x%x", e.Handle)
	}

	if e.Detail != "" {
		b.WriteString(": ")
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

// Handle sets the handle the error relates to
func (b *Builder) Handle(h uint64) *Builder {
	b.err.Handle = h
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

// StaleHandle reports an operation on a handle whose object has already
// been deallocated.
func StaleHandle(phase Phase, h uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Handle: h,
		Detail: "native object already deallocated",
	}
}

// AttachFailed reports that a deallocation observer could not be
// installed on the object behind h.
func AttachFailed(h uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindAttachment,
		Handle: h,
		Detail: "dealloc observer installation failed",
		Cause:  cause,
	}
}

// InvalidHandle reports a zero or never-valid handle
func InvalidHandle(phase Phase, h uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Handle: h,
		Detail: "handle does not refer to an object",
	}
}

// Underflow reports a release without a matching retain
func Underflow(h uint64) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindRefcountUnderflow,
		Handle: h,
		Detail: "release without matching retain",
	}
}

// Closed reports an operation against a shut-down component
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAlreadyClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// AttrNotFound reports a missing named attribute
func AttrNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseAttribute,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("attribute %q not set", name),
	}
}

// AllocationFailed reports heap space exhaustion
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// IsStale reports whether err is a stale-handle error in any phase
func IsStale(err error) bool {
	var e *Error
	return As(err, &e) && e.Kind == KindStaleHandle
}

// IsAttachment reports whether err is an observer attachment failure
func IsAttachment(err error) bool {
	var e *Error
	return As(err, &e) && e.Kind == KindAttachment
}
