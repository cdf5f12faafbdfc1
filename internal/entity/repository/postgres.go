package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"fleet-insight/engine/internal/entity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an entity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entityColumns = `id, kind, COALESCE(parent_id, ''), name, platform, health_score, analyses_enabled, analysis_toggles, created_at`

// GetByID returns the entity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListChildren returns the direct children of parentID, ordered by name.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentID string) ([]*domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE parent_id = $1 ORDER BY name`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListByKind returns up to limit entities of the given kind, oldest first so
// long-waiting candidates are enumerated before recently created ones.
// limit <= 0 means no limit.
func (r *PostgresRepository) ListByKind(ctx context.Context, kind domain.Kind, limit int) ([]*domain.Entity, error) {
	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = $1 ORDER BY created_at, id LIMIT $2`, string(kind), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListByKindPage returns up to limit entities of the given kind in stable
// (created_at, id) order, starting after the entity afterID. An empty afterID
// starts from the beginning. Callers page through the whole population; the
// keyset keeps each page cheap regardless of fleet size.
func (r *PostgresRepository) ListByKindPage(ctx context.Context, kind domain.Kind, afterID string, limit int) ([]*domain.Entity, error) {
	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	after := sql.NullString{String: afterID, Valid: afterID != ""}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE kind = $1
		  AND ($2::text IS NULL OR (created_at, id) > (SELECT created_at, id FROM entities WHERE id = $2))
		ORDER BY created_at, id LIMIT $3`, string(kind), after, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Ancestors returns the chain from the entity's parent up to the tenant root, nearest first.
func (r *PostgresRepository) Ancestors(ctx context.Context, id string) ([]*domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT e.*, 0 AS depth FROM entities e
			WHERE e.id = (SELECT parent_id FROM entities WHERE id = $1)
			UNION ALL
			SELECT p.*, chain.depth + 1 FROM entities p
			JOIN chain ON p.id = chain.parent_id
		)
		SELECT `+entityColumns+` FROM chain ORDER BY depth`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Create persists the entity to the database. The entity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entity) error {
	toggles, err := json.Marshal(e.AnalysisToggles)
	if err != nil {
		return err
	}
	if e.AnalysisToggles == nil {
		toggles = []byte(`{}`)
	}
	parent := sql.NullString{String: e.ParentID, Valid: e.ParentID != ""}
	score := sql.NullInt64{}
	if e.HealthScore != nil {
		score = sql.NullInt64{Int64: int64(*e.HealthScore), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities (id, kind, parent_id, name, platform, health_score, analyses_enabled, analysis_toggles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Kind), parent, e.Name, e.Platform, score, e.AnalysesEnabled, toggles, e.CreatedAt)
	return err
}

// UpdateHealthScore sets health_score for the entity; nil clears it.
func (r *PostgresRepository) UpdateHealthScore(ctx context.Context, id string, score *int) error {
	v := sql.NullInt64{}
	if score != nil {
		v = sql.NullInt64{Int64: int64(*score), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE entities SET health_score = $2 WHERE id = $1`, id, v)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*domain.Entity, error) {
	var (
		e       domain.Entity
		kind    string
		score   sql.NullInt64
		toggles []byte
	)
	if err := row.Scan(&e.ID, &kind, &e.ParentID, &e.Name, &e.Platform, &score, &e.AnalysesEnabled, &toggles, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = domain.Kind(kind)
	if score.Valid {
		v := int(score.Int64)
		e.HealthScore = &v
	}
	if len(toggles) > 0 {
		if err := json.Unmarshal(toggles, &e.AnalysisToggles); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]*domain.Entity, error) {
	out := []*domain.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
