package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an analysis attempt.
type Status string

const (
	// StatusPending: the slot is claimed by the scheduler, no worker has started.
	StatusPending Status = "pending"
	// StatusProcessing: a worker won the claim and is executing.
	StatusProcessing Status = "processing"
	// StatusProcessed: terminal success; score and narrative are set.
	StatusProcessed Status = "processed"
	// StatusFailed: terminal failure; error_summary is set.
	StatusFailed Status = "failed"
)

// InFlight reports whether the status occupies the (entity, type) slot.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// Terminal reports whether the status allows no further transitions.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition reports whether the state machine allows from → to.
// Valid transitions: pending → processing, processing → processed,
// processing → failed, pending → failed (validation or billing rejection).
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessed || to == StatusFailed
	default:
		return false
	}
}

// Record is one analysis attempt for an (entity, analysis type) pair.
// Records are never deleted: terminal rows are the audit history and the
// timestamp source for the dependency gate.
type Record struct {
	ID           string
	EntityID     string
	EntityKind   string
	AnalysisType string
	Status       Status
	// Score is the 0–100 outcome; nil unless processed.
	Score *int
	// Narrative is the analyst's text; nil unless processed.
	Narrative *string
	// ErrorSummary is a human-readable failure reason; nil unless failed.
	ErrorSummary *string
	// CostCharged is the tokens debited for this attempt; nil when nothing
	// was charged (validation or balance rejection before the analyzer ran).
	CostCharged *int
	CreatedAt time.Time
	// ProcessingStartedAt is when a worker won the claim; nil while pending.
	ProcessingStartedAt *time.Time
	// AnalyzedAt is the completion wall-clock time; set on the processed transition.
	AnalyzedAt *time.Time
}

// StaleSince returns the timestamp staleness is measured from for reaping.
// A processing record is stale relative to when its worker claimed it, so
// time spent queued never counts against the execution window. A pending
// record has no worker, so its creation time is the right basis: a pending
// row older than the execution window means its job was lost and the slot
// must be reclaimed.
func (r *Record) StaleSince() time.Time {
	if r.Status == StatusProcessing && r.ProcessingStartedAt != nil {
		return *r.ProcessingStartedAt
	}
	return r.CreatedAt
}

// Sentinel errors for the record store; callers branch on these, not on SQL state.
var (
	// ErrAlreadyInFlight: a pending or processing record already occupies the slot.
	ErrAlreadyInFlight = errors.New("analysis already in flight for entity and type")
	// ErrNotClaimed: the compare-and-swap on status found the record in another
	// state (another worker claimed it, or the reaper already failed it).
	ErrNotClaimed = errors.New("record status did not match expected state")
)
