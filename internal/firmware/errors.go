package firmware

import (
	"errors"
	"fmt"
)

var (
	// ErrUpgradeInProgress is returned when an upgrade is already running
	ErrUpgradeInProgress = errors.New("firmware upgrade already in progress")
	// ErrUpgradeCancelled is wrapped by failures caused by Cancel or ctx
	ErrUpgradeCancelled = errors.New("firmware upgrade cancelled")
	// ErrUpgradeRejected is wrapped when the device answers with a non-success status
	ErrUpgradeRejected = errors.New("device rejected firmware upgrade")
	// ErrEmptyImage is returned for a zero-length firmware image
	ErrEmptyImage = errors.New("firmware image is empty")
	// ErrInvalidVersion is returned by ParseVersion
	ErrInvalidVersion = errors.New("invalid firmware version")
)

// Phase identifies the step of an upgrade
type Phase int

const (
	PhaseStart Phase = iota
	PhaseTransfer
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseTransfer:
		return "transfer"
	case PhaseEnd:
		return "end"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Failure is the terminal error of an upgrade attempt
type Failure struct {
	Phase  Phase
	Index  int    // Chunk index (transfer phase only)
	Reason string // Human-actionable explanation
	Err    error
}

// Error implements the error interface
func (f *Failure) Error() string {
	where := f.Phase.String()
	if f.Phase == PhaseTransfer {
		where = fmt.Sprintf("transfer of chunk %d", f.Index)
	}
	if f.Err != nil {
		return fmt.Sprintf("firmware upgrade failed during %s: %s (caused by: %v)", where, f.Reason, f.Err)
	}
	return fmt.Sprintf("firmware upgrade failed during %s: %s", where, f.Reason)
}

// Unwrap returns the underlying error for error chain inspection
func (f *Failure) Unwrap() error {
	return f.Err
}
