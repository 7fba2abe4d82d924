package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the cart/order pipeline, compared with errors.Is().
var (
	// ErrUnauthenticated means no valid bearer credential is present.
	// Mutating operations fail fast; not retryable until re-login.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrTransient is a network or service failure with no guarantee of a
	// server-side effect. Retryable; checkout retries must reuse the same
	// idempotency key.
	ErrTransient = errors.New("transient failure")

	// ErrConflict means the request was rejected against current server
	// state (e.g. a line item went unavailable). Not retryable as-is; the
	// cart must be refreshed first.
	ErrConflict = errors.New("conflict")

	// ErrValidation is malformed input, rejected before any network call.
	ErrValidation = errors.New("validation failure")

	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCheckoutInProgress means another checkout attempt is already
	// submitting for this owner.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// Error carries the operation and entity alongside the sentinel kind so
// callers can both errors.Is() on the kind and log useful context.
type Error struct {
	Op      string // failing operation, e.g. "cart.AddItem"
	ID      string // optional entity id (dish, order)
	Message string
	Err     error // sentinel kind, or a wrapped transport error
}

func (e *Error) Error() string {
	switch {
	case e.ID != "" && e.Message != "":
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.ID, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.ID != "":
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps a sentinel kind with operation context.
func New(op string, kind error, message string) *Error {
	return &Error{Op: op, Message: message, Err: kind}
}

// NewID is New with the id of the entity involved.
func NewID(op, id string, kind error, message string) *Error {
	return &Error{Op: op, ID: id, Message: message, Err: kind}
}

// Wire codes used in HTTP error bodies.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeTransient       = "transient"
	CodeConflict        = "conflict"
	CodeValidation      = "validation_failure"
	CodeNotFound        = "not_found"
)

// Code maps an error to its wire code. Unknown errors classify as
// transient: the caller cannot prove a server-side effect either way.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeTransient
	}
}

// FromCode maps a wire code back to its sentinel kind.
func FromCode(code string) error {
	switch code {
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeConflict:
		return ErrConflict
	case CodeValidation:
		return ErrValidation
	case CodeNotFound:
		return ErrNotFound
	default:
		return ErrTransient
	}
}

// Retryable reports whether a retry with unchanged input can succeed.
func Retryable(err error) bool {
	return Code(err) == CodeTransient
}
