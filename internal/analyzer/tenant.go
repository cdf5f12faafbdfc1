package analyzer

import (
	"context"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/registry"
)

// TenantAdapter runs the tenant-wide posture summary. It is time-scheduled
// rather than dependency-gated, so it may run against organizations whose
// findings have not changed; the trend history keeps that useful.
type TenantAdapter struct {
	base
}

func (a *TenantAdapter) Kind() entitydomain.Kind { return entitydomain.KindTenant }

func (a *TenantAdapter) Validate(ctx context.Context, e *entitydomain.Entity) error {
	if err := requireKind(e, entitydomain.KindTenant); err != nil {
		return err
	}
	return requireChildren(ctx, a.entities, e)
}

func (a *TenantAdapter) GatherContext(ctx context.Context, e *entitydomain.Entity) (*Context, error) {
	children, err := a.childSummaries(ctx, e.ID, registry.TypeOrganizationHealth)
	if err != nil {
		return nil, err
	}
	history, err := a.history(ctx, e.ID, registry.TypeTenantPosture)
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

func (a *TenantAdapter) Analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error) {
	return a.analyze(ctx, e, gathered, criteriaPrompt, exclusionsBlock)
}

func (a *TenantAdapter) Persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error {
	return a.persist(ctx, rec, res, costCharged, scoreMirror)
}
