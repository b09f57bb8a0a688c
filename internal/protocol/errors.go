package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of a link-level failure
type ErrorKind int

const (
	// KindNotConnected indicates the transport was unavailable at send time
	KindNotConnected ErrorKind = iota
	// KindMalformedFrame indicates a header, terminator or length mismatch
	KindMalformedFrame
	// KindChecksumMismatch indicates a structurally valid frame with a bad CRC
	KindChecksumMismatch
	// KindUnknownCommand indicates a command code outside the closed set
	KindUnknownCommand
	// KindReassemblyAborted indicates a broken sub-packet sequence
	KindReassemblyAborted
	// KindCorrelationTimeout indicates no matching reply arrived in time
	KindCorrelationTimeout
	// KindEncodingFailure indicates a value could not be encoded for the wire
	KindEncodingFailure
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "Not Connected"
	case KindMalformedFrame:
		return "Malformed Frame"
	case KindChecksumMismatch:
		return "Checksum Mismatch"
	case KindUnknownCommand:
		return "Unknown Command"
	case KindReassemblyAborted:
		return "Reassembly Aborted"
	case KindCorrelationTimeout:
		return "Correlation Timeout"
	case KindEncodingFailure:
		return "Encoding Failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is a classified protocol failure. Two errors match under errors.Is
// when their kinds are equal, so callers compare against the Err* sentinels.
type Error struct {
	Kind    ErrorKind // Category of failure
	Message string    // Human-readable detail
	Err     error     // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a protocol error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons
var (
	ErrNotConnected       = &Error{Kind: KindNotConnected}
	ErrMalformedFrame     = &Error{Kind: KindMalformedFrame}
	ErrChecksumMismatch   = &Error{Kind: KindChecksumMismatch}
	ErrUnknownCommand     = &Error{Kind: KindUnknownCommand}
	ErrReassemblyAborted  = &Error{Kind: KindReassemblyAborted}
	ErrCorrelationTimeout = &Error{Kind: KindCorrelationTimeout}
	ErrEncodingFailure    = &Error{Kind: KindEncodingFailure}
)

var (
	// ErrInvalidMTU is returned when the MTU leaves no room for sub-packet data
	ErrInvalidMTU = errors.New("mtu too small for sub-packet overhead")
	// ErrPayloadTooLarge is returned when a payload does not fit the u16 length field
	ErrPayloadTooLarge = errors.New("payload exceeds 65535 bytes")
)
