// Package scheduler owns the tool-call lifecycle.
//
// # Lifecycle
//
// A call moves scheduled -> validating -> awaiting_approval -> executing and
// ends in exactly one of success, error or cancelled. Approval is skipped
// when the bound invocation requires none. Any non-terminal call can be
// cancelled. The StateManager validates every transition and publishes a
// full snapshot (completed, then active, then queued) to the event bus after
// each mutation; observers never diff partial updates.
//
// # Cancellation
//
// One cancellation signal per run. Triggering it fails calls awaiting
// approval, drains the pending queue into cancelled terminal calls carrying
// the reason, and propagates to executing calls so their underlying work is
// terminated. Cancellation is reported as a cancelled terminal state, never
// as an error.
package scheduler
