// Package analyzer adapts each entity kind to the external analysis
// collaborator: validating applicability, gathering hierarchical context,
// delegating the evaluation, and persisting the outcome.
package analyzer

import (
	"context"
	"errors"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
)

// ErrNotApplicable marks a validation failure: the analysis does not apply to
// the entity (wrong platform, no children to analyze). The attempt fails
// without being billed.
var ErrNotApplicable = errors.New("analysis not applicable to entity")

// Request is what the external collaborator evaluates.
type Request struct {
	EntityID       string
	EntityKind     string
	ContextBlock   string
	CriteriaPrompt string
	// ExclusionsBlock is the resolved hierarchy of exclusion/priority rules;
	// may be empty.
	ExclusionsBlock string
}

// Result is the collaborator's evaluation.
type Result struct {
	// Score is the 0–100 health score.
	Score int
	// Narrative is the human-readable assessment.
	Narrative string
}

// Analyst is the external analysis collaborator. Errors are propagated
// verbatim into the failed record; the engine does not interpret them.
type Analyst interface {
	Analyze(ctx context.Context, req *Request) (*Result, error)
}

// Adapter runs one entity kind's analysis lifecycle. Implementations are
// selected by an explicit kind switch (Select), not inheritance.
type Adapter interface {
	// Kind is the entity kind this adapter serves.
	Kind() entitydomain.Kind
	// Validate reports whether the analysis applies to the entity. Returns an
	// error wrapping ErrNotApplicable when it does not; billing never happens
	// for inapplicable entities.
	Validate(ctx context.Context, e *entitydomain.Entity) error
	// GatherContext collects what the collaborator needs: child summaries,
	// prior results, and score trend.
	GatherContext(ctx context.Context, e *entitydomain.Entity) (*Context, error)
	// Analyze delegates the evaluation to the external collaborator.
	Analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error)
	// Persist finalizes the processed record and, when scoreMirror is true,
	// mirrors the score onto the entity's health_score.
	Persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error
}

// Select returns the adapter for the entity kind, or nil if none is registered.
func Select(adapters []Adapter, kind entitydomain.Kind) Adapter {
	for _, a := range adapters {
		if a.Kind() == kind {
			return a
		}
	}
	return nil
}
