package scheduler

import (
	"context"
	"log"
	"time"

	"fleet-insight/engine/internal/registry"
)

// reapReason is the error summary written to records the reaper reclaims.
const reapReason = "execution timed out"

// ReapStore is the minimal record repository needed by the reaper.
type ReapStore interface {
	ReapStale(ctx context.Context, analysisType string, cutoff time.Time, reason string) (int, error)
}

// Reaper reclaims in-flight records stuck past their type's max execution
// window, freeing the (entity, type) slot for the next tick. Processing rows
// cover a dead or wedged worker; pending rows cover a queue job lost before
// any worker claimed it. A late worker's write is rejected by the record
// store's status guard, not cancelled.
type Reaper struct {
	types   *registry.Registry
	records ReapStore
	now     func() time.Time
}

// NewReaper returns a Reaper with the given dependencies.
func NewReaper(types *registry.Registry, records ReapStore) *Reaper {
	return &Reaper{
		types:   types,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reclaims stale in-flight records for every type. Per-type errors
// are logged and do not stop the sweep.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()
	for _, def := range r.types.All() {
		n, err := r.records.ReapStale(ctx, def.Type, now.Add(-def.MaxExecution), reapReason)
		if err != nil {
			log.Printf("reaper: %s sweep: %v", def.Type, err)
			continue
		}
		if n > 0 {
			log.Printf("reaper: reclaimed %d stuck %s records", n, def.Type)
		}
	}
}
