package repository

import (
	"context"
	"time"

	"fleet-insight/engine/internal/analysis/domain"
)

// Repository defines persistence for analysis records and their state machine.
// Every transition is a single atomic statement; callers must not implement
// check-then-act sequences on top of it.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Record, error)
	// CreatePending inserts a pending record unless a pending or processing
	// record already exists for (entityID, analysisType). Returns
	// domain.ErrAlreadyInFlight when the slot is occupied.
	CreatePending(ctx context.Context, r *domain.Record) error
	// Claim flips pending → processing. Returns domain.ErrNotClaimed if the
	// record is no longer pending (lost race or reaped).
	Claim(ctx context.Context, id string) error
	// MarkProcessed flips processing → processed and stores the outcome.
	// Returns domain.ErrNotClaimed if the record is no longer processing,
	// which discards late writes from reaped workers.
	MarkProcessed(ctx context.Context, id string, score int, narrative string, costCharged *int, analyzedAt time.Time) error
	// RecordCharge stamps the debited cost on a processing record. Returns
	// domain.ErrNotClaimed if the record is no longer processing.
	RecordCharge(ctx context.Context, id string, cost int) error
	// MarkFailed flips pending|processing → failed with a reason. costCharged
	// is non-nil when the attempt was debited before it failed.
	MarkFailed(ctx context.Context, id string, reason string, costCharged *int) error
	// ReapStale flips in-flight records stale before cutoff to failed and
	// returns how many were reclaimed. Staleness is measured from the claim
	// stamp for processing rows and from creation for pending rows, so a
	// record whose queue job was lost frees its slot too.
	ReapStale(ctx context.Context, analysisType string, cutoff time.Time, reason string) (int, error)
	// LastProcessedAt returns the analyzed_at of the most recent processed
	// record for (entityID, analysisType), or nil if none exists.
	LastProcessedAt(ctx context.Context, entityID, analysisType string) (*time.Time, error)
	// LatestChildProcessedAt returns the max analyzed_at over processed
	// records of the given types for direct children of parentID, or nil if
	// no child intelligence exists.
	LatestChildProcessedAt(ctx context.Context, parentID string, analysisTypes []string) (*time.Time, error)
	// RecentProcessed returns up to limit processed records for the entity and
	// type, newest first. Used to build trend context for the analyzer.
	RecentProcessed(ctx context.Context, entityID, analysisType string, limit int) ([]*domain.Record, error)
}
