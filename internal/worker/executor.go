// Package worker executes analysis jobs: claim the record, validate, resolve
// customization, debit the tenant, invoke the collaborator, persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	"fleet-insight/engine/internal/analyzer"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	exclusionservice "fleet-insight/engine/internal/exclusion/service"
	quotadomain "fleet-insight/engine/internal/quota/domain"
	"fleet-insight/engine/internal/queue"
	"fleet-insight/engine/internal/registry"
)

// RecordStore is the minimal record repository needed by the executor.
type RecordStore interface {
	GetByID(ctx context.Context, id string) (*analysisdomain.Record, error)
	Claim(ctx context.Context, id string) error
	RecordCharge(ctx context.Context, id string, cost int) error
	MarkFailed(ctx context.Context, id string, reason string, costCharged *int) error
}

// EntityStore is the minimal entity repository needed by the executor.
type EntityStore interface {
	GetByID(ctx context.Context, id string) (*entitydomain.Entity, error)
}

// Ledger is the metering surface the executor charges through.
type Ledger interface {
	Debit(ctx context.Context, tenantID string, amount int, reason string) error
	Credit(ctx context.Context, tenantID string, amount int, reason string) error
	GetCost(ctx context.Context, tenantID, analysisType string) (int, error)
}

// Resolver resolves the inherited customization for an invocation.
type Resolver interface {
	Resolve(ctx context.Context, e *entitydomain.Entity, analysisType string) (*exclusionservice.Resolved, error)
}

// Types looks up analysis type definitions; satisfied by the registry.
type Types interface {
	Get(analysisType string) (registry.Definition, bool)
}

// Executor drives one job through the analysis state machine. Safe for
// concurrent use; every state transition is an atomic store operation.
type Executor struct {
	records  RecordStore
	entities EntityStore
	ledger   Ledger
	resolver Resolver
	types    Types
	adapters []analyzer.Adapter
	metrics  *Metrics
}

// NewExecutor returns an Executor with the given dependencies. metrics may be nil.
func NewExecutor(records RecordStore, entities EntityStore, ledger Ledger, resolver Resolver, types Types, adapters []analyzer.Adapter, metrics *Metrics) *Executor {
	return &Executor{
		records:  records,
		entities: entities,
		ledger:   ledger,
		resolver: resolver,
		types:    types,
		adapters: adapters,
		metrics:  metrics,
	}
}

var tracer = otel.Tracer("fleet-insight/engine/internal/worker")

// Execute runs the job to a terminal record state. It returns an error only
// for infrastructure failures worth logging; business rejections (validation,
// balance) end in a failed record and a nil return. Duplicate deliveries and
// lost claim races return nil without side effects.
func (ex *Executor) Execute(ctx context.Context, job *queue.Job) error {
	ctx, span := tracer.Start(ctx, "analysis.execute", trace.WithAttributes(
		attribute.String("analysis.type", job.AnalysisType),
		attribute.String("entity.id", job.EntityID),
		attribute.String("record.id", job.RecordID),
	))
	defer span.End()

	err := ex.execute(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (ex *Executor) execute(ctx context.Context, job *queue.Job) error {
	ex.metrics.JobConsumed(ctx, job.AnalysisType)

	rec, err := ex.records.GetByID(ctx, job.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RecordID, err)
	}
	if rec == nil {
		log.Printf("worker: job for unknown record %s dropped", job.RecordID)
		return nil
	}
	if rec.Status.Terminal() {
		// At-least-once delivery: the first copy already finished this attempt.
		return nil
	}

	def, ok := ex.types.Get(job.AnalysisType)
	if !ok {
		return ex.fail(ctx, rec, fmt.Sprintf("unknown analysis type %q", job.AnalysisType), nil)
	}

	entity, err := ex.entities.GetByID(ctx, job.EntityID)
	if err != nil {
		return fmt.Errorf("load entity %s: %w", job.EntityID, err)
	}
	if entity == nil {
		return ex.fail(ctx, rec, "entity no longer exists", nil)
	}

	// The claim: only the worker that flips pending → processing proceeds.
	if err := ex.records.Claim(ctx, rec.ID); err != nil {
		if errors.Is(err, analysisdomain.ErrNotClaimed) {
			return nil
		}
		return fmt.Errorf("claim record %s: %w", rec.ID, err)
	}

	if !entity.AnalysisEnabled(job.AnalysisType) {
		return ex.fail(ctx, rec, "analyses disabled for entity", nil)
	}

	adapter := analyzer.Select(ex.adapters, entity.Kind)
	if adapter == nil {
		return ex.fail(ctx, rec, fmt.Sprintf("no adapter for entity kind %q", entity.Kind), nil)
	}

	// Validation and context gathering are unbilled: nothing is charged for
	// work the analyzer never attempts.
	if err := adapter.Validate(ctx, entity); err != nil {
		if errors.Is(err, analyzer.ErrNotApplicable) {
			return ex.fail(ctx, rec, err.Error(), nil)
		}
		return ex.failWrap(ctx, rec, "validation", err, nil)
	}
	gathered, err := adapter.GatherContext(ctx, entity)
	if err != nil {
		return ex.failWrap(ctx, rec, "gather context", err, nil)
	}
	resolved, err := ex.resolver.Resolve(ctx, entity, job.AnalysisType)
	if err != nil {
		return ex.failWrap(ctx, rec, "resolve customization", err, nil)
	}

	cost, err := ex.ledger.GetCost(ctx, job.TenantID, job.AnalysisType)
	if err != nil {
		return ex.failWrap(ctx, rec, "cost lookup", err, nil)
	}

	// Debit before the collaborator is invoked: no work runs that cannot be
	// paid for, and a rejected debit never reaches the analyzer.
	debitReason := fmt.Sprintf("%s for %s %s (record %s)", job.AnalysisType, entity.Kind, entity.ID, rec.ID)
	if err := ex.ledger.Debit(ctx, job.TenantID, cost, debitReason); err != nil {
		if errors.Is(err, quotadomain.ErrInsufficientBalance) {
			return ex.fail(ctx, rec, "insufficient balance", nil)
		}
		if errors.Is(err, quotadomain.ErrLedgerFrozen) {
			return ex.fail(ctx, rec, "tenant ledger frozen pending reconciliation", nil)
		}
		return ex.failWrap(ctx, rec, "debit", err, nil)
	}
	ex.metrics.TokensDebited(ctx, job.AnalysisType, cost)

	// Stamp the charge on the record now so the attempt stays auditable even
	// if this worker dies or the reaper reclaims the slot mid-analysis.
	if err := ex.records.RecordCharge(ctx, rec.ID, cost); err != nil {
		log.Printf("worker: could not stamp charge of %d on record %s: %v", cost, rec.ID, err)
	}

	res, err := adapter.Analyze(ctx, entity, gathered, resolved.CriteriaPrompt, resolved.ExclusionsBlock)
	if err != nil {
		// The debit covers the attempt, not the outcome: a collaborator error
		// keeps the charge. Deliberate billing policy.
		charged := cost
		return ex.failWrap(ctx, rec, "analyzer", err, &charged)
	}

	charged := cost
	if err := adapter.Persist(ctx, rec, res, &charged, def.WritesHealthScore); err != nil {
		if errors.Is(err, analysisdomain.ErrNotClaimed) {
			// The reaper reclaimed the slot while we were analyzing; the late
			// result is discarded.
			log.Printf("worker: record %s was reclaimed during analysis; result discarded", rec.ID)
			return nil
		}
		// The result could not be durably recorded, so the tenant is not
		// charged for it. The refund is a compensating credit in a separate
		// transaction, not a rollback of the debit; if it fails (or this
		// process dies between debit and credit) the charge stands, stays
		// stamped on the record, and needs an operator credit against the
		// record id in the reason.
		var kept *int
		if creditErr := ex.ledger.Credit(ctx, job.TenantID, cost, "refund: result persistence failed for record "+rec.ID); creditErr != nil {
			log.Printf("worker: refund of %d tokens for record %s failed: %v; tenant %s keeps an uncompensated debit, credit manually",
				cost, rec.ID, creditErr, job.TenantID)
			kept = &cost
		}
		return ex.failWrap(ctx, rec, "persist result", err, kept)
	}

	ex.metrics.AnalysisProcessed(ctx, job.AnalysisType)
	return nil
}

// fail moves the record to failed with a human-readable reason.
func (ex *Executor) fail(ctx context.Context, rec *analysisdomain.Record, reason string, costCharged *int) error {
	ex.metrics.AnalysisFailed(ctx, rec.AnalysisType)
	if err := ex.records.MarkFailed(ctx, rec.ID, reason, costCharged); err != nil {
		if errors.Is(err, analysisdomain.ErrNotClaimed) {
			return nil
		}
		return fmt.Errorf("mark record %s failed: %w", rec.ID, err)
	}
	return nil
}

// failWrap fails the record with a stage-prefixed summary and returns the
// underlying error for the consumer loop to log.
func (ex *Executor) failWrap(ctx context.Context, rec *analysisdomain.Record, stage string, cause error, costCharged *int) error {
	if err := ex.fail(ctx, rec, fmt.Sprintf("%s: %v", stage, cause), costCharged); err != nil {
		return err
	}
	return fmt.Errorf("%s for record %s: %w", stage, rec.ID, cause)
}
