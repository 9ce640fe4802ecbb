// Package status defines the closed set of result codes shared by every
// hwcodec package, together with the sentinel errors that carry them.
//
// Every operation in the module returns one of the sentinels below, usually
// wrapped with context via fmt.Errorf("%w: ..."). Callers classify results
// with errors.Is or collapse them to a Code with CodeOf.
package status

import "errors"

// Code is the closed result-code enum exposed by the top-level API.
type Code int

const (
	// OK indicates success.
	OK Code = iota
	// InvalidArgument indicates a nil, zero or out-of-range input.
	InvalidArgument
	// ResourceExhausted indicates a pool, group or table at capacity.
	ResourceExhausted
	// Empty indicates a non-blocking or timed wait found nothing.
	Empty
	// InvalidIndex indicates a stale or out-of-range slot/task/buffer handle.
	InvalidIndex
	// HardwareFailure indicates the hardware backend reported an error.
	HardwareFailure
	// Closed indicates the object has been destroyed or closed.
	Closed
	// Unknown is returned by CodeOf for errors outside the taxonomy.
	Unknown
)

// Sentinel errors. Each maps to exactly one Code.
var (
	// ErrInvalidArgument indicates a programmer error in the supplied input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted indicates a capacity limit was reached.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrEmpty indicates there was nothing to take.
	ErrEmpty = errors.New("empty")

	// ErrWouldBlock indicates a non-blocking call would have had to wait.
	ErrWouldBlock = wrap(ErrEmpty, "would block")

	// ErrTimeout indicates a timed wait expired.
	ErrTimeout = wrap(ErrEmpty, "timeout")

	// ErrInvalidIndex indicates a stale or out-of-range handle.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrHardwareFailure indicates a hardware backend failure.
	ErrHardwareFailure = errors.New("hardware failure")

	// ErrClosed indicates use after destroy/close.
	ErrClosed = errors.New("closed")
)

type wrapped struct {
	base error
	msg  string
}

func (w *wrapped) Error() string { return w.base.Error() + ": " + w.msg }
func (w *wrapped) Unwrap() error { return w.base }

func wrap(base error, msg string) error {
	return &wrapped{base: base, msg: msg}
}

// CodeOf maps err to its result code. A nil error is OK.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInvalidArgument):
		return InvalidArgument
	case errors.Is(err, ErrResourceExhausted):
		return ResourceExhausted
	case errors.Is(err, ErrEmpty):
		return Empty
	case errors.Is(err, ErrInvalidIndex):
		return InvalidIndex
	case errors.Is(err, ErrHardwareFailure):
		return HardwareFailure
	case errors.Is(err, ErrClosed):
		return Closed
	default:
		return Unknown
	}
}

// String returns the code name.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid_argument"
	case ResourceExhausted:
		return "resource_exhausted"
	case Empty:
		return "empty"
	case InvalidIndex:
		return "invalid_index"
	case HardwareFailure:
		return "hardware_failure"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
