package operations

import "errors"

// Failure taxonomy for operation runs. Every error is fatal to its run: a
// variant step either succeeds and continues or the run terminates with the
// log accumulated so far. Retries only exist inside the bounded polling loops
// of the install protocol.
var (
	// Precondition failures, distinguished in logs from transport errors.
	ErrNotEligible        = errors.New("device model is not eligible for upgrade")
	ErrInsufficientSpace  = errors.New("not enough free flash space")
	ErrImageMissing       = errors.New("target image not present in flash")
	ErrVersionUnavailable = errors.New("failed to collect device version information")

	// Ambiguous device state requiring operator intervention; deliberately
	// never auto-remediated.
	ErrAmbiguousState = errors.New("ambiguous device state, manual intervention required")

	// Unparseable schedule input; surfaces before any device mutation for
	// that step.
	ErrScheduleParse = errors.New("invalid schedule time format")
)
