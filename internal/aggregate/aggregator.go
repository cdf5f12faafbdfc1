// Package aggregate cascades health scores up the tree: each parent's score
// is the rounded mean of its direct children's non-null scores.
package aggregate

import (
	"context"
	"log"
	"math"
	"time"

	entitydomain "fleet-insight/engine/internal/entity/domain"
)

// EntityStore is the minimal entity repository needed by the aggregator.
type EntityStore interface {
	ListByKind(ctx context.Context, kind entitydomain.Kind, limit int) ([]*entitydomain.Entity, error)
	ListChildren(ctx context.Context, parentID string) ([]*entitydomain.Entity, error)
	UpdateHealthScore(ctx context.Context, id string, score *int) error
}

// Aggregator recomputes parent health scores bottom-up. The recomputation is
// idempotent and independent of any single analysis completion; eventual
// consistency is bounded by the run interval.
type Aggregator struct {
	entities EntityStore
}

// New returns an Aggregator over the given store.
func New(entities EntityStore) *Aggregator {
	return &Aggregator{entities: entities}
}

// Run recomputes on the given interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Recompute(ctx); err != nil {
				log.Printf("aggregate: recompute: %v", err)
			}
		}
	}
}

// Recompute walks group → organization → tenant, in that order so each level
// reads scores the previous level just wrote. A parent with no scored
// children keeps its score null; it is never coerced to zero.
func (a *Aggregator) Recompute(ctx context.Context) error {
	for _, kind := range []entitydomain.Kind{
		entitydomain.KindGroup,
		entitydomain.KindOrganization,
		entitydomain.KindTenant,
	} {
		parents, err := a.entities.ListByKind(ctx, kind, 0)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := a.recomputeParent(ctx, p); err != nil {
				log.Printf("aggregate: %s %s: %v", p.Kind, p.ID, err)
			}
		}
	}
	return nil
}

func (a *Aggregator) recomputeParent(ctx context.Context, p *entitydomain.Entity) error {
	children, err := a.entities.ListChildren(ctx, p.ID)
	if err != nil {
		return err
	}
	mean, ok := MeanScore(children)
	if !ok {
		// No scored children; leave the parent's score alone.
		return nil
	}
	if p.HealthScore != nil && *p.HealthScore == mean {
		return nil
	}
	return a.entities.UpdateHealthScore(ctx, p.ID, &mean)
}

// MeanScore returns the rounded arithmetic mean of the children's non-null
// scores, and false when no child has a score.
func MeanScore(children []*entitydomain.Entity) (int, bool) {
	sum, n := 0, 0
	for _, c := range children {
		if c.HealthScore == nil {
			continue
		}
		sum += *c.HealthScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}
