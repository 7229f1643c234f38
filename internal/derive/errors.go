// Package derive implements the Derivation Pipeline (spec §4.8): the fixed
// linear composition L1 Traversal → L1 Retrieval → Frame Queue → Channel
// Bank → Channel Reader → Batch Stream → Batch Provider → Attributes
// Queue.
//
// The error-severity taxonomy and propagation policy (§7) is grounded
// directly on _examples/hakandemirdev-kroma/components/node/rollup/driver/
// state.go's eventLoop, which dispatches on
// errors.Is(err, derive.ErrReset / ErrTemporary / ErrCritical) — this
// package defines those exact sentinels (plus NotEnoughData, matching the
// kroma driver's "ErrTemporary/NotEnoughData are retried, Reset triggers a
// driver-issued Reset signal, Critical is fatal" dispatch) so
// the driver (internal/driver) can reuse the identical switch.
package derive

import "errors"

// Severity sentinels. Wrap these with fmt.Errorf("...: %w", Err*) to attach
// detail while keeping errors.Is dispatch working, exactly as kroma's
// driver does for its own derive.Err* family.
var (
	// ErrNotEnoughData signals the pipeline has no more input ready right
	// now (e.g. a channel isn't complete yet); retried against the same
	// safe head without any signal.
	ErrNotEnoughData = errors.New("derive: not enough data")

	// ErrTemporary signals a transient failure (oracle hiccup) retried
	// exactly like ErrNotEnoughData.
	ErrTemporary = errors.New("derive: temporary error")

	// ErrReset signals the driver must issue a Reset signal
	// before retrying (reorg, bad parent/timestamp, Holocene activation
	// crossing).
	ErrReset = errors.New("derive: reset required")

	// ErrCritical signals a fatal, non-retryable failure.
	ErrCritical = errors.New("derive: critical error")

	// ErrEndOfSource signals the L1 data source is exhausted; the driver
	// clamps its target to the current safe head (non-interop) or returns
	// InvalidTransitionHash (interop), per §4.10.
	ErrEndOfSource = errors.New("derive: end of source")
)

// ResetReason refines ErrReset for logging/diagnostics.
type ResetReason string

const (
	ResetReorgDetected      ResetReason = "reorg-detected"
	ResetBadParent          ResetReason = "bad-parent"
	ResetBadTimestamp       ResetReason = "bad-timestamp"
	ResetHoloceneActivation ResetReason = "holocene-activation"
)
