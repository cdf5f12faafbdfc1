// Package scheduler turns the per-type schedule into pending analysis
// records and queue jobs. Ticks are fire-and-forget: the conditional insert
// in the record store makes missed or duplicated ticks harmless.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/queue"
	"fleet-insight/engine/internal/registry"
)

// EntitySource enumerates candidates and resolves their tenant.
type EntitySource interface {
	// ListByKindPage returns up to limit entities of the kind after afterID in
	// a stable order; empty afterID starts from the beginning.
	ListByKindPage(ctx context.Context, kind entitydomain.Kind, afterID string, limit int) ([]*entitydomain.Entity, error)
	Ancestors(ctx context.Context, id string) ([]*entitydomain.Entity, error)
}

// DueChecker is the dependency gate.
type DueChecker interface {
	Due(ctx context.Context, e *entitydomain.Entity, def registry.Definition) (bool, error)
}

// RecordStore is the minimal record repository needed by the scheduler.
type RecordStore interface {
	CreatePending(ctx context.Context, r *analysisdomain.Record) error
	MarkFailed(ctx context.Context, id string, reason string, costCharged *int) error
}

// Enqueuer hands jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// Scheduler runs one tick loop per analysis type.
type Scheduler struct {
	types     *registry.Registry
	entities  EntitySource
	gate      DueChecker
	records   RecordStore
	enqueuer  Enqueuer
	batchSize int
	now       func() time.Time
}

// New returns a Scheduler with the given dependencies.
func New(types *registry.Registry, entities EntitySource, gate DueChecker, records RecordStore, enqueuer Enqueuer, batchSize int) *Scheduler {
	return &Scheduler{
		types:     types,
		entities:  entities,
		gate:      gate,
		records:   records,
		enqueuer:  enqueuer,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks every analysis type on its own interval until ctx is cancelled.
// Each type gets an immediate first tick.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, def := range s.types.All() {
		wg.Add(1)
		go func(def registry.Definition) {
			defer wg.Done()
			ticker := time.NewTicker(def.Interval)
			defer ticker.Stop()
			s.tickLogged(ctx, def.Type)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.tickLogged(ctx, def.Type)
				}
			}
		}(def)
	}
	wg.Wait()
}

func (s *Scheduler) tickLogged(ctx context.Context, analysisType string) {
	n, err := s.Tick(ctx, analysisType)
	if err != nil {
		log.Printf("scheduler: %s tick: %v", analysisType, err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: %s enqueued %d entities", analysisType, n)
	}
}

// Tick pages through every candidate of the type, filters through the gate,
// creates pending records, and enqueues a job per created record. Returns how
// many jobs were enqueued. The batch size caps enqueued work, not
// enumeration: entities the gate skips or whose slot is occupied never eat
// the batch, so large fleets are still walked end to end. A single
// candidate's failure is logged and never aborts the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context, analysisType string) (int, error) {
	def, ok := s.types.Get(analysisType)
	if !ok {
		return 0, &UnknownTypeError{Type: analysisType}
	}

	enqueued := 0
	afterID := ""
	for {
		page, err := s.entities.ListByKindPage(ctx, def.TargetKind, afterID, s.batchSize)
		if err != nil {
			return enqueued, err
		}
		if len(page) == 0 {
			return enqueued, nil
		}
		for _, e := range page {
			if enqueued >= s.batchSize {
				return enqueued, nil
			}
			if !e.AnalysisEnabled(analysisType) {
				continue
			}
			due, err := s.gate.Due(ctx, e, def)
			if err != nil {
				log.Printf("scheduler: %s gate check for %s: %v", analysisType, e.ID, err)
				continue
			}
			if !due {
				continue
			}
			sent, err := s.dispatch(ctx, e, def)
			if err != nil {
				log.Printf("scheduler: %s dispatch for %s: %v", analysisType, e.ID, err)
				continue
			}
			if sent {
				enqueued++
			}
		}
		if len(page) < s.batchSize {
			return enqueued, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// dispatch claims the slot with a pending record and enqueues the job,
// reporting whether a job actually went out. An occupied slot is not an
// error and not a sent job, so it never counts against the tick's batch.
// When the enqueue fails, the fresh pending record is failed again so the
// slot is not orphaned.
func (s *Scheduler) dispatch(ctx context.Context, e *entitydomain.Entity, def registry.Definition) (bool, error) {
	tenantID, err := s.tenantOf(ctx, e)
	if err != nil {
		return false, err
	}

	rec := &analysisdomain.Record{
		ID:           uuid.NewString(),
		EntityID:     e.ID,
		EntityKind:   string(e.Kind),
		AnalysisType: def.Type,
		CreatedAt:    s.now(),
	}
	if err := s.records.CreatePending(ctx, rec); err != nil {
		if errors.Is(err, analysisdomain.ErrAlreadyInFlight) {
			// A previous attempt is still pending or processing; not an error.
			return false, nil
		}
		return false, err
	}

	job := &queue.Job{
		Name:         queue.JobName,
		RecordID:     rec.ID,
		EntityID:     e.ID,
		EntityKind:   string(e.Kind),
		TenantID:     tenantID,
		AnalysisType: def.Type,
		EnqueuedAt:   s.now(),
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		if failErr := s.records.MarkFailed(ctx, rec.ID, "enqueue failed: "+err.Error(), nil); failErr != nil {
			log.Printf("scheduler: could not release slot for record %s: %v", rec.ID, failErr)
		}
		return false, err
	}
	return true, nil
}

func (s *Scheduler) tenantOf(ctx context.Context, e *entitydomain.Entity) (string, error) {
	if e.Kind == entitydomain.KindTenant {
		return e.ID, nil
	}
	ancestors, err := s.entities.Ancestors(ctx, e.ID)
	if err != nil {
		return "", err
	}
	for _, a := range ancestors {
		if a.Kind == entitydomain.KindTenant {
			return a.ID, nil
		}
	}
	return "", &OrphanEntityError{ID: e.ID}
}

// UnknownTypeError: Tick was asked to schedule a type the registry does not know.
type UnknownTypeError struct{ Type string }

func (e *UnknownTypeError) Error() string { return "unknown analysis type " + e.Type }

// OrphanEntityError: the entity's ancestor chain does not reach a tenant.
type OrphanEntityError struct{ ID string }

func (e *OrphanEntityError) Error() string { return "entity " + e.ID + " is not rooted at a tenant" }
