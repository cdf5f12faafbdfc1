package analyzer

import (
	"context"
	"fmt"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/registry"
)

// GroupAdapter runs group-level rollup analyses over member device findings.
type GroupAdapter struct {
	base
}

func (a *GroupAdapter) Kind() entitydomain.Kind { return entitydomain.KindGroup }

// Validate rejects groups with no member devices; there is nothing to roll up.
func (a *GroupAdapter) Validate(ctx context.Context, e *entitydomain.Entity) error {
	if err := requireKind(e, entitydomain.KindGroup); err != nil {
		return err
	}
	return requireChildren(ctx, a.entities, e)
}

func (a *GroupAdapter) GatherContext(ctx context.Context, e *entitydomain.Entity) (*Context, error) {
	children, err := a.childSummaries(ctx, e.ID, registry.TypeDeviceHealth)
	if err != nil {
		return nil, err
	}
	history, err := a.history(ctx, e.ID, registry.TypeGroupHealth)
	if err != nil {
		return nil, err
	}
	return &Context{
		EntityName: e.Name,
		EntityKind: string(e.Kind),
		Children:   children,
		History:    history,
	}, nil
}

func (a *GroupAdapter) Analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error) {
	return a.analyze(ctx, e, gathered, criteriaPrompt, exclusionsBlock)
}

func (a *GroupAdapter) Persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error {
	return a.persist(ctx, rec, res, costCharged, scoreMirror)
}

// requireChildren fails validation for parents with no direct children.
func requireChildren(ctx context.Context, entities EntityReader, e *entitydomain.Entity) error {
	children, err := entities.ListChildren(ctx, e.ID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return fmt.Errorf("%s %s has no children to analyze: %w", e.Kind, e.ID, ErrNotApplicable)
	}
	return nil
}
