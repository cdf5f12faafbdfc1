// Package gate decides whether an entity is due for re-analysis: parent
// levels wait on new child intelligence, leaf and tenant levels on elapsed
// time.
package gate

import (
	"context"
	"time"

	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/registry"
)

// RecordTimestamps supplies the completion timestamps the gate reads;
// satisfied by the analysis record repository.
type RecordTimestamps interface {
	LastProcessedAt(ctx context.Context, entityID, analysisType string) (*time.Time, error)
	LatestChildProcessedAt(ctx context.Context, parentID string, analysisTypes []string) (*time.Time, error)
}

// Gate is the dependency gate. It is read-only and safe for concurrent use.
type Gate struct {
	records RecordTimestamps
	now     func() time.Time
}

// New returns a Gate reading timestamps from records.
func New(records RecordTimestamps) *Gate {
	return &Gate{records: records, now: func() time.Time { return time.Now().UTC() }}
}

// Due reports whether the entity should be analyzed now under the given
// definition.
//
// Dependency-gated types (group, organization): due iff at least one
// processed child record of a relevant type completed after the entity's own
// last processed record. No child intelligence at all means not due: there
// is nothing to analyze yet. Time-scheduled types (device, tenant): due iff
// the entity has never been processed or the interval has elapsed since the
// last processed record.
func (g *Gate) Due(ctx context.Context, e *entitydomain.Entity, def registry.Definition) (bool, error) {
	if def.DependencyGated() {
		return g.dueByDependency(ctx, e.ID, def)
	}
	return g.dueByInterval(ctx, e.ID, def)
}

func (g *Gate) dueByDependency(ctx context.Context, entityID string, def registry.Definition) (bool, error) {
	latestChild, err := g.records.LatestChildProcessedAt(ctx, entityID, def.ChildTypes)
	if err != nil {
		return false, err
	}
	if latestChild == nil {
		return false, nil
	}
	last, err := g.records.LastProcessedAt(ctx, entityID, def.Type)
	if err != nil {
		return false, err
	}
	return last == nil || last.Before(*latestChild), nil
}

func (g *Gate) dueByInterval(ctx context.Context, entityID string, def registry.Definition) (bool, error) {
	last, err := g.records.LastProcessedAt(ctx, entityID, def.Type)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return g.now().Sub(*last) >= def.Interval, nil
}
