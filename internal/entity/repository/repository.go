package repository

import (
	"context"

	"fleet-insight/engine/internal/entity/domain"
)

// Repository defines persistence for the entity tree.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Entity, error)
	ListChildren(ctx context.Context, parentID string) ([]*domain.Entity, error)
	ListByKind(ctx context.Context, kind domain.Kind, limit int) ([]*domain.Entity, error)
	// ListByKindPage returns up to limit entities of the kind after afterID in
	// stable (created_at, id) order; empty afterID starts from the beginning.
	ListByKindPage(ctx context.Context, kind domain.Kind, afterID string, limit int) ([]*domain.Entity, error)
	// Ancestors returns the chain from the entity's parent up to the tenant
	// root, nearest first. Returns an empty slice for a tenant.
	Ancestors(ctx context.Context, id string) ([]*domain.Entity, error)
	Create(ctx context.Context, e *domain.Entity) error
	// UpdateHealthScore sets health_score; nil clears it. Only the aggregator
	// and the health analysis Persist step may call this.
	UpdateHealthScore(ctx context.Context, id string, score *int) error
}
