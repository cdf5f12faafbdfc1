package analyzer

import (
	"context"
	"fmt"
	"time"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
)

// EntityReader is the minimal entity access the adapters need.
type EntityReader interface {
	ListChildren(ctx context.Context, parentID string) ([]*entitydomain.Entity, error)
	UpdateHealthScore(ctx context.Context, id string, score *int) error
}

// RecordReader is the minimal record access the adapters need.
type RecordReader interface {
	RecentProcessed(ctx context.Context, entityID, analysisType string, limit int) ([]*analysisdomain.Record, error)
	MarkProcessed(ctx context.Context, id string, score int, narrative string, costCharged *int, analyzedAt time.Time) error
}

// base carries the dependencies shared by all four adapters.
type base struct {
	entities EntityReader
	records  RecordReader
	analyst  Analyst
	now      func() time.Time
}

// NewAdapters returns one adapter per entity kind, sharing the given stores
// and collaborator.
func NewAdapters(entities EntityReader, records RecordReader, analyst Analyst) []Adapter {
	b := base{
		entities: entities,
		records:  records,
		analyst:  analyst,
		now:      func() time.Time { return time.Now().UTC() },
	}
	return []Adapter{
		&DeviceAdapter{base: b},
		&GroupAdapter{base: b},
		&OrganizationAdapter{base: b},
		&TenantAdapter{base: b},
	}
}

// analyze delegates to the collaborator with the rendered context.
func (b *base) analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error) {
	res, err := b.analyst.Analyze(ctx, &Request{
		EntityID:        e.ID,
		EntityKind:      string(e.Kind),
		ContextBlock:    gathered.Render(),
		CriteriaPrompt:  criteriaPrompt,
		ExclusionsBlock: exclusionsBlock,
	})
	if err != nil {
		return nil, err
	}
	if res.Score < 0 || res.Score > 100 {
		return nil, fmt.Errorf("collaborator returned score %d outside 0..100", res.Score)
	}
	return res, nil
}

// persist finalizes the record and optionally mirrors the score onto the
// entity. The record write is guarded on processing status, so a slot the
// reaper already reclaimed rejects the late write before any entity update.
func (b *base) persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error {
	if err := b.records.MarkProcessed(ctx, rec.ID, res.Score, res.Narrative, costCharged, b.now()); err != nil {
		return err
	}
	if scoreMirror {
		score := res.Score
		if err := b.entities.UpdateHealthScore(ctx, rec.EntityID, &score); err != nil {
			return err
		}
	}
	return nil
}

// history loads the entity's recent prior results for trend context.
func (b *base) history(ctx context.Context, entityID, analysisType string) ([]PriorResult, error) {
	recent, err := b.records.RecentProcessed(ctx, entityID, analysisType, historyLimit)
	if err != nil {
		return nil, err
	}
	out := make([]PriorResult, 0, len(recent))
	for _, r := range recent {
		if r.Score == nil || r.AnalyzedAt == nil {
			continue
		}
		out = append(out, PriorResult{Score: *r.Score, AnalyzedAt: *r.AnalyzedAt})
	}
	return out, nil
}

// childSummaries loads each direct child's latest finding of childType.
// Children that have never been analyzed appear unscored.
func (b *base) childSummaries(ctx context.Context, parentID, childType string) ([]ChildSummary, error) {
	children, err := b.entities.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]ChildSummary, 0, len(children))
	for _, ch := range children {
		summary := ChildSummary{Name: ch.Name, Kind: string(ch.Kind), Score: ch.HealthScore}
		latest, err := b.records.RecentProcessed(ctx, ch.ID, childType, 1)
		if err != nil {
			return nil, err
		}
		if len(latest) > 0 {
			rec := latest[0]
			if rec.Narrative != nil {
				summary.Narrative = *rec.Narrative
			}
			if rec.Score != nil {
				summary.Score = rec.Score
			}
			if rec.AnalyzedAt != nil {
				summary.AnalyzedAt = *rec.AnalyzedAt
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// requireKind rejects entities routed to the wrong adapter.
func requireKind(e *entitydomain.Entity, want entitydomain.Kind) error {
	if e.Kind != want {
		return fmt.Errorf("entity %s is %s, not %s: %w", e.ID, e.Kind, want, ErrNotApplicable)
	}
	return nil
}
