package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fleet-insight/engine/internal/analysis/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an analysis record repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, entity_id, entity_kind, analysis_type, status, score, narrative, error_summary, cost_charged, created_at, processing_started_at, analyzed_at`

// GetByID returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM analysis_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// CreatePending inserts a pending record in one conditional statement. The
// WHERE NOT EXISTS guard plus the partial unique index on in-flight rows make
// double-creation impossible even when two schedulers race the same slot.
func (r *PostgresRepository) CreatePending(ctx context.Context, rec *domain.Record) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO analysis_records (id, entity_id, entity_kind, analysis_type, status, created_at)
		SELECT $1, $2, $3, $4, 'pending', $5
		WHERE NOT EXISTS (
			SELECT 1 FROM analysis_records
			WHERE entity_id = $2 AND analysis_type = $4 AND status IN ('pending', 'processing')
		)`,
		rec.ID, rec.EntityID, rec.EntityKind, rec.AnalysisType, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyInFlight
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyInFlight
	}
	rec.Status = domain.StatusPending
	return nil
}

// Claim flips pending → processing via compare-and-swap on status, stamping
// the claim time so the reaper measures the execution window from when work
// actually started rather than from slot creation.
func (r *PostgresRepository) Claim(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE analysis_records SET status = 'processing', processing_started_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkProcessed stores the outcome; guarded on status='processing' so a late
// write after the reaper reclaimed the slot is ignored.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, id string, score int, narrative string, costCharged *int, analyzedAt time.Time) error {
	cost := sql.NullInt64{}
	if costCharged != nil {
		cost = sql.NullInt64{Int64: int64(*costCharged), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE analysis_records
		SET status = 'processed', score = $2, narrative = $3, cost_charged = $4, analyzed_at = $5
		WHERE id = $1 AND status = 'processing'`,
		id, score, narrative, cost, analyzedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordCharge stamps the debited cost on a processing record at debit time,
// so reaped and crashed attempts still show what they were billed. Guarded
// on status like every other transition write.
func (r *PostgresRepository) RecordCharge(ctx context.Context, id string, cost int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analysis_records SET cost_charged = $2 WHERE id = $1 AND status = 'processing'`, id, cost)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkFailed flips an in-flight record to failed with a reason.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, reason string, costCharged *int) error {
	cost := sql.NullInt64{}
	if costCharged != nil {
		cost = sql.NullInt64{Int64: int64(*costCharged), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE analysis_records
		SET status = 'failed', error_summary = $2, cost_charged = $3
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, reason, cost)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReapStale fails in-flight records stale before cutoff, freeing their
// slots. Processing rows are measured from the claim stamp; pending rows
// from creation, so a record whose queue job was lost is reclaimed too (the
// claim CAS rejects a worker that shows up afterwards). cost_charged is left
// untouched so a debited-then-reaped attempt stays auditable.
func (r *PostgresRepository) ReapStale(ctx context.Context, analysisType string, cutoff time.Time, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE analysis_records
		SET status = 'failed', error_summary = $3
		WHERE analysis_type = $1
		  AND ((status = 'processing' AND COALESCE(processing_started_at, created_at) < $2)
		    OR (status = 'pending' AND created_at < $2))`,
		analysisType, cutoff, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// LastProcessedAt returns when the entity's most recent processed record of
// the type completed, or nil if it has never been processed.
func (r *PostgresRepository) LastProcessedAt(ctx context.Context, entityID, analysisType string) (*time.Time, error) {
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(analyzed_at) FROM analysis_records
		WHERE entity_id = $1 AND analysis_type = $2 AND status = 'processed'`,
		entityID, analysisType).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// LatestChildProcessedAt returns the newest child intelligence under parentID
// across the given analysis types, or nil when no child has been processed.
func (r *PostgresRepository) LatestChildProcessedAt(ctx context.Context, parentID string, analysisTypes []string) (*time.Time, error) {
	if len(analysisTypes) == 0 {
		return nil, nil
	}
	var t sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(ar.analyzed_at)
		FROM analysis_records ar
		JOIN entities e ON e.id = ar.entity_id
		WHERE e.parent_id = $1 AND ar.status = 'processed' AND ar.analysis_type = ANY($2)`,
		parentID, analysisTypes).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// RecentProcessed returns up to limit processed records, newest first.
func (r *PostgresRepository) RecentProcessed(ctx context.Context, entityID, analysisType string, limit int) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM analysis_records
		WHERE entity_id = $1 AND analysis_type = $2 AND status = 'processed'
		ORDER BY analyzed_at DESC LIMIT $3`,
		entityID, analysisType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation, i.e.
// the partial in-flight index caught a race the NOT EXISTS guard missed.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotClaimed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		rec          domain.Record
		status       string
		score        sql.NullInt64
		narrative    sql.NullString
		errSummary   sql.NullString
		cost         sql.NullInt64
		processingAt sql.NullTime
		analyzedAt   sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.EntityID, &rec.EntityKind, &rec.AnalysisType, &status,
		&score, &narrative, &errSummary, &cost, &rec.CreatedAt, &processingAt, &analyzedAt); err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	if score.Valid {
		v := int(score.Int64)
		rec.Score = &v
	}
	if narrative.Valid {
		rec.Narrative = &narrative.String
	}
	if errSummary.Valid {
		rec.ErrorSummary = &errSummary.String
	}
	if cost.Valid {
		v := int(cost.Int64)
		rec.CostCharged = &v
	}
	if processingAt.Valid {
		rec.ProcessingStartedAt = &processingAt.Time
	}
	if analyzedAt.Valid {
		rec.AnalyzedAt = &analyzedAt.Time
	}
	return &rec, nil
}
