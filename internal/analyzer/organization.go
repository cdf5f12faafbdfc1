package analyzer

import (
	"context"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/registry"
)

// OrganizationAdapter runs organization-level rollup analyses over group findings.
type OrganizationAdapter struct {
	base
}

func (a *OrganizationAdapter) Kind() entitydomain.Kind { return entitydomain.KindOrganization }

func (a *OrganizationAdapter) Validate(ctx context.Context, e *entitydomain.Entity) error {
	if err := requireKind(e, entitydomain.KindOrganization); err != nil {
		return err
	}
	return requireChildren(ctx, a.entities, e)
}

func (a *OrganizationAdapter) GatherContext(ctx context.Context, e *entitydomain.Entity) (*Context, error) {
	children, err := a.childSummaries(ctx, e.ID, registry.TypeGroupHealth)
	if err != nil {
		return nil, err
	}
	history, err := a.history(ctx, e.ID, registry.TypeOrganizationHealth)
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

func (a *OrganizationAdapter) Analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error) {
	return a.analyze(ctx, e, gathered, criteriaPrompt, exclusionsBlock)
}

func (a *OrganizationAdapter) Persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error {
	return a.persist(ctx, rec, res, costCharged, scoreMirror)
}
