// Package job implements the job state machine: the per-node runtime
// lifecycle. A Machine owns the
// single queue mutex guarding every piece of
// job-substructure state; internal/queue builds its ring buffer on
// top of that same lock rather than introducing a second one.
//
// Grounded on src/build.c (BuildNode/AdvanceNode) in original_source/,
// restructured as a state machine over explicit Go values instead of C
// bitflags, in the teacher's style of small typed enums
// (internal/db.Result-shaped status constants).
package job

import (
	"github.com/tundra-build/tundra/internal/journal"
)

// State is a node's position in the build lifecycle.
type State uint8

const (
	StateInitial State = iota
	StateBlocked
	StateScanning
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
	StateUpToDate
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateBlocked:
		return "BLOCKED"
	case StateScanning:
		return "SCANNING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	case StateUpToDate:
		return "UP-TO-DATE"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the four states
// quantified invariant 1 requires every node to end in.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateUpToDate:
		return true
	default:
		return false
	}
}

// journalResult maps a terminal State onto the journal package's
// Result, the small enum used to avoid an import cycle between job
// and journal.
func (s State) journalResult() journal.Result {
	switch s {
	case StateCompleted, StateUpToDate:
		return journal.ResultCompleted
	case StateFailed:
		return journal.ResultFailed
	case StateCancelled:
		return journal.ResultCancelled
	default:
		return journal.ResultUnknown
	}
}

// RebuildReason explains why a node was not considered up to date,
// recovered from src/debug.c's rebuild-reason trace. It is stored on
// Job.RebuildReason and rendered by internal/introspect; no log line
// reports it, and Config.DebugFlags is not consulted.
type RebuildReason uint8

const (
	ReasonNone RebuildReason = iota
	ReasonNoAncestor
	ReasonMissingOutput
	ReasonFailedLastRun
	ReasonSignatureChanged
)

func (r RebuildReason) String() string {
	switch r {
	case ReasonNone:
		return "up to date"
	case ReasonNoAncestor:
		return "no ancestor record"
	case ReasonMissingOutput:
		return "output missing"
	case ReasonFailedLastRun:
		return "failed last run"
	case ReasonSignatureChanged:
		return "input signature changed"
	default:
		return "unknown"
	}
}
