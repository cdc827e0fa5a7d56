// Package errors provides structured error types for the objlink bridge.
//
// Errors are categorized by Phase (which bridge operation failed) and
// Kind (error category). The Error type carries the handle involved and
// a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAttach, errors.KindAttachment).
//		Handle(h).
//		Detail("object class forbids auxiliary observers").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.StaleHandle(errors.PhaseAttribute, h)
//	err := errors.AttachFailed(h, cause)
//
// All errors implement the standard error interface and support
// errors.Is/As; two *Error values match when Phase and Kind agree.
package errors
