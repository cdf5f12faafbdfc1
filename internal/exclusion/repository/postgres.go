package repository

import (
	"context"
	"database/sql"
	"errors"

	"fleet-insight/engine/internal/exclusion/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an exclusion rule repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetRule returns the rule for the key, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetRule(ctx context.Context, entityKind, entityID, analysisType string) (*domain.Rule, error) {
	rule := domain.Rule{EntityKind: entityKind, EntityID: entityID, AnalysisType: analysisType}
	err := r.db.QueryRowContext(ctx, `
		SELECT exclusion_text, priority_text FROM exclusion_rules
		WHERE entity_kind = $1 AND entity_id = $2 AND analysis_type = $3`,
		entityKind, entityID, analysisType).Scan(&rule.ExclusionText, &rule.PriorityText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// UpsertRule creates or replaces the rule for its (kind, id, type) key.
func (r *PostgresRepository) UpsertRule(ctx context.Context, rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exclusion_rules (entity_kind, entity_id, analysis_type, exclusion_text, priority_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_kind, entity_id, analysis_type)
		DO UPDATE SET exclusion_text = EXCLUDED.exclusion_text, priority_text = EXCLUDED.priority_text`,
		rule.EntityKind, rule.EntityID, rule.AnalysisType, rule.ExclusionText, rule.PriorityText)
	return err
}

// PromptOverride returns the tenant's criteria prompt override, or nil if none.
func (r *PostgresRepository) PromptOverride(ctx context.Context, tenantID, analysisType string) (*string, error) {
	var prompt string
	err := r.db.QueryRowContext(ctx, `
		SELECT prompt FROM tenant_prompt_overrides WHERE tenant_id = $1 AND analysis_type = $2`,
		tenantID, analysisType).Scan(&prompt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &prompt, nil
}
