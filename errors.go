package mojocore

import "fmt"

// Code is a SYSTEM-error-space result code (spec.md §4.8).
type Code uint8

const (
	CodeOK Code = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodeAlreadyExists
	CodePermissionDenied
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeAborted
	CodeOutOfRange
	CodeUnimplemented
	CodeInternal
	CodeUnavailable
	CodeDataLoss
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCancelled:
		return "CANCELLED"
	case CodeUnknown:
		return "UNKNOWN"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case CodeFailedPrecondition:
		return "FAILED_PRECONDITION"
	case CodeAborted:
		return "ABORTED"
	case CodeOutOfRange:
		return "OUT_OF_RANGE"
	case CodeUnimplemented:
		return "UNIMPLEMENTED"
	case CodeInternal:
		return "INTERNAL"
	case CodeUnavailable:
		return "UNAVAILABLE"
	case CodeDataLoss:
		return "DATA_LOSS"
	default:
		return "UNKNOWN"
	}
}

// Subcode refines a Code the way spec.md §4.8 documents (BUSY under
// FAILED_PRECONDITION, SHOULD_WAIT under UNAVAILABLE).
type Subcode uint8

const (
	SubcodeNone Subcode = iota
	SubcodeBusy
	SubcodeShouldWait
)

// Error is the error value every core operation returns on failure.
// It never carries a stack trace: every call site is one frame from the
// operation that produced it, so there is nothing worth wrapping with
// github.com/pkg/errors for.
type Error struct {
	Code    Code
	Subcode Subcode
	Op      string
	Err     error // optional wrapped cause, for CodeInternal only
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mojocore: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	if e.Subcode != SubcodeNone {
		return fmt.Sprintf("mojocore: %s: %s (subcode %d)", e.Op, e.Code, e.Subcode)
	}
	return fmt.Sprintf("mojocore: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds an *Error for op/code with no subcode.
func newErr(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

func newErrSub(op string, code Code, sub Subcode) *Error {
	return &Error{Op: op, Code: code, Subcode: sub}
}

// CodeOf extracts the Code carried by err, or CodeOK if err is nil, or
// CodeUnknown if err is not one of ours.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if asError(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
