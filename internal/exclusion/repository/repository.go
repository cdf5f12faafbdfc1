package repository

import (
	"context"

	"fleet-insight/engine/internal/exclusion/domain"
)

// Repository defines persistence for exclusion rules and tenant prompt overrides.
type Repository interface {
	// GetRule returns the rule for (entityKind, entityID, analysisType), or nil if none.
	GetRule(ctx context.Context, entityKind, entityID, analysisType string) (*domain.Rule, error)
	// UpsertRule creates or replaces the rule for its (kind, id, type) key.
	UpsertRule(ctx context.Context, r *domain.Rule) error
	// PromptOverride returns the tenant's customized criteria prompt for the
	// type, or nil when the built-in default applies.
	PromptOverride(ctx context.Context, tenantID, analysisType string) (*string, error)
}
