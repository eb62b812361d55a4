// Package exitcode defines the outcome vocabulary shared by every
// orchestration layer.
//
// Each layer returns a Code to its caller and callers branch only on the
// Code, never on the text of a worker's output. A fixed subset of codes is
// non-absorbable: a layer that receives one from a child returns it
// unchanged instead of retrying or converting it to Failure.
package exitcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code is the outcome of one unit of orchestrated work.
type Code string

const (
	Success            Code = "success"
	Failure            Code = "failure"
	DepthExceeded      Code = "depth-exceeded"
	HumanInputRequired Code = "human-input-required"
	NeedsRefinement    Code = "needs-refinement"
	NeedsEscalation    Code = "needs-escalation"
	PartialSuccess     Code = "partial-success"
	Interrupted        Code = "interrupted"
	Timeout            Code = "timeout"
)

// All returns every defined code in declaration order.
func All() []Code {
	return []Code{
		Success,
		Failure,
		DepthExceeded,
		HumanInputRequired,
		NeedsRefinement,
		NeedsEscalation,
		PartialSuccess,
		Interrupted,
		Timeout,
	}
}

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// IsNonAbsorbable reports whether c must be propagated unchanged by every
// layer that receives it from a child.
func (c Code) IsNonAbsorbable() bool {
	switch c {
	case DepthExceeded, Interrupted, Timeout:
		return true
	}
	return false
}

// IsSuccess reports whether c counts as a completed unit of work.
// PartialSuccess counts: the unit ran and produced output, even if some
// of its own children failed.
func (c Code) IsSuccess() bool {
	return c == Success || c == PartialSuccess
}

// Valid reports whether c is one of the defined codes.
func (c Code) Valid() bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}

// Parse converts a string into a Code. Underscores are accepted in place of
// hyphens so values written by shell workers ("depth_exceeded") still map.
func Parse(s string) (Code, error) {
	c := Code(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !c.Valid() {
		return "", fmt.Errorf("unknown exit code %q", s)
	}
	return c, nil
}

// Process exit statuses. A conductor running as somebody else's worker
// reports its outcome through these, which lets non-absorbable codes cross
// process boundaries intact.
const (
	StatusSuccess            = 0
	StatusFailure            = 1
	StatusPartialSuccess     = 2
	StatusHumanInputRequired = 3
	StatusNeedsRefinement    = 4
	StatusNeedsEscalation    = 5
	StatusDepthExceeded      = 10
	StatusTimeout            = 124
	StatusInterrupted        = 130
)

// ExitStatus returns the process exit status for c.
func (c Code) ExitStatus() int {
	switch c {
	case Success:
		return StatusSuccess
	case PartialSuccess:
		return StatusPartialSuccess
	case HumanInputRequired:
		return StatusHumanInputRequired
	case NeedsRefinement:
		return StatusNeedsRefinement
	case NeedsEscalation:
		return StatusNeedsEscalation
	case DepthExceeded:
		return StatusDepthExceeded
	case Timeout:
		return StatusTimeout
	case Interrupted:
		return StatusInterrupted
	default:
		return StatusFailure
	}
}

// FromExitStatus maps a child process exit status back to a Code.
// Unknown non-zero statuses map to Failure.
func FromExitStatus(status int) Code {
	switch status {
	case StatusSuccess:
		return Success
	case StatusPartialSuccess:
		return PartialSuccess
	case StatusHumanInputRequired:
		return HumanInputRequired
	case StatusNeedsRefinement:
		return NeedsRefinement
	case StatusNeedsEscalation:
		return NeedsEscalation
	case StatusDepthExceeded:
		return DepthExceeded
	case StatusTimeout:
		return Timeout
	case StatusInterrupted:
		return Interrupted
	default:
		return Failure
	}
}

// Aggregate applies the success/partial/failure rule used by the phase
// coordinator: Success with zero failures,
// Failure when every unit failed, PartialSuccess otherwise.
// An empty set is a Success.
func Aggregate(total, failed int) Code {
	switch {
	case failed == 0:
		return Success
	case failed >= total:
		return Failure
	default:
		return PartialSuccess
	}
}

// FromContext maps a done context's error to the code a layer returns when
// it stops early: Timeout for an expired deadline, Interrupted otherwise.
// It returns "" for a nil error.
func FromContext(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return Interrupted
	}
}
