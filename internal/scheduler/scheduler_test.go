package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/queue"
	"fleet-insight/engine/internal/registry"
)

type memEntitySource struct {
	byKind    map[entitydomain.Kind][]*entitydomain.Entity
	ancestors map[string][]*entitydomain.Entity
}

func (s *memEntitySource) ListByKindPage(ctx context.Context, kind entitydomain.Kind, afterID string, limit int) ([]*entitydomain.Entity, error) {
	all := s.byKind[kind]
	start := 0
	if afterID != "" {
		for i, e := range all {
			if e.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	out := all[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEntitySource) Ancestors(ctx context.Context, id string) ([]*entitydomain.Entity, error) {
	return s.ancestors[id], nil
}

// dueSet marks specific entities due; everything else is not.
type dueSet struct {
	due  map[string]bool
	errs map[string]error
}

func (d dueSet) Due(ctx context.Context, e *entitydomain.Entity, def registry.Definition) (bool, error) {
	if err := d.errs[e.ID]; err != nil {
		return false, err
	}
	return d.due[e.ID], nil
}

type memSlotStore struct {
	mu       sync.Mutex
	inFlight map[string]bool // entityID|type
	created  []*analysisdomain.Record
	failed   map[string]string // recordID -> reason
}

func newMemSlotStore() *memSlotStore {
	return &memSlotStore{inFlight: map[string]bool{}, failed: map[string]string{}}
}

func (s *memSlotStore) CreatePending(ctx context.Context, r *analysisdomain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.EntityID + "|" + r.AnalysisType
	if s.inFlight[key] {
		return analysisdomain.ErrAlreadyInFlight
	}
	s.inFlight[key] = true
	r.Status = analysisdomain.StatusPending
	s.created = append(s.created, r)
	return nil
}

func (s *memSlotStore) MarkFailed(ctx context.Context, id string, reason string, costCharged *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.created {
		if r.ID == id {
			s.inFlight[r.EntityID+"|"+r.AnalysisType] = false
			r.Status = analysisdomain.StatusFailed
			s.failed[id] = reason
			return nil
		}
	}
	return analysisdomain.ErrNotClaimed
}

type memEnqueuer struct {
	mu   sync.Mutex
	jobs []*queue.Job
	err  error
}

func (q *memEnqueuer) Enqueue(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func fleetSource() *memEntitySource {
	tenant := &entitydomain.Entity{ID: "t1", Kind: entitydomain.KindTenant, Name: "acme", AnalysesEnabled: true}
	group := &entitydomain.Entity{ID: "g1", Kind: entitydomain.KindGroup, ParentID: "o1", Name: "floor-1", AnalysesEnabled: true}
	d1 := &entitydomain.Entity{ID: "d1", Kind: entitydomain.KindDevice, ParentID: "g1", Name: "kiosk-1", Platform: "linux", AnalysesEnabled: true}
	d2 := &entitydomain.Entity{ID: "d2", Kind: entitydomain.KindDevice, ParentID: "g1", Name: "kiosk-2", Platform: "linux", AnalysesEnabled: true}
	d3 := &entitydomain.Entity{ID: "d3", Kind: entitydomain.KindDevice, ParentID: "g1", Name: "kiosk-3", Platform: "linux", AnalysesEnabled: false}
	org := &entitydomain.Entity{ID: "o1", Kind: entitydomain.KindOrganization, ParentID: "t1", Name: "retail", AnalysesEnabled: true}
	chain := []*entitydomain.Entity{group, org, tenant}
	return &memEntitySource{
		byKind: map[entitydomain.Kind][]*entitydomain.Entity{
			entitydomain.KindDevice: {d1, d2, d3},
			entitydomain.KindGroup:  {group},
			entitydomain.KindTenant: {tenant},
		},
		ancestors: map[string][]*entitydomain.Entity{
			"d1": chain, "d2": chain, "d3": chain,
			"g1": {org, tenant},
		},
	}
}

func newSchedulerFixture(t *testing.T, gate DueChecker) (*Scheduler, *memSlotStore, *memEnqueuer) {
	t.Helper()
	types, err := registry.New(nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	records := newMemSlotStore()
	enqueuer := &memEnqueuer{}
	return New(types, fleetSource(), gate, records, enqueuer, 50), records, enqueuer
}

func TestTick_EnqueuesDueEnabledEntities(t *testing.T) {
	gate := dueSet{due: map[string]bool{"d1": true, "d2": true, "d3": true}}
	s, records, enqueuer := newSchedulerFixture(t, gate)

	n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// d3 is due but disabled.
	if n != 2 {
		t.Fatalf("enqueued = %d, want 2", n)
	}
	if len(records.created) != 2 || len(enqueuer.jobs) != 2 {
		t.Fatalf("created = %d jobs = %d, want 2 each", len(records.created), len(enqueuer.jobs))
	}
	for _, job := range enqueuer.jobs {
		if job.TenantID != "t1" {
			t.Errorf("job for %s carries tenant %q, want t1", job.EntityID, job.TenantID)
		}
		if job.Name != queue.JobName {
			t.Errorf("job name = %q, want %q", job.Name, queue.JobName)
		}
	}
}

func TestTick_SkipsNotDue(t *testing.T) {
	gate := dueSet{due: map[string]bool{"d1": true}}
	s, _, enqueuer := newSchedulerFixture(t, gate)

	n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 || len(enqueuer.jobs) != 1 || enqueuer.jobs[0].EntityID != "d1" {
		t.Fatalf("want exactly d1 enqueued, got %d jobs", len(enqueuer.jobs))
	}
}

func TestTick_InFlightSlotIsSilent(t *testing.T) {
	gate := dueSet{due: map[string]bool{"d1": true, "d2": true}}
	s, records, enqueuer := newSchedulerFixture(t, gate)
	records.inFlight["d1|"+registry.TypeDeviceHealth] = true

	n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// d1's slot is occupied: skipped without error, d2 still goes out.
	if n != 1 || len(enqueuer.jobs) != 1 || enqueuer.jobs[0].EntityID != "d2" {
		t.Fatalf("want exactly d2 enqueued, got %d jobs (n=%d)", len(enqueuer.jobs), n)
	}
}

func TestTick_GateErrorDoesNotAbortBatch(t *testing.T) {
	gate := dueSet{
		due:  map[string]bool{"d2": true},
		errs: map[string]error{"d1": errors.New("store unavailable")},
	}
	s, _, enqueuer := newSchedulerFixture(t, gate)

	n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 || len(enqueuer.jobs) != 1 || enqueuer.jobs[0].EntityID != "d2" {
		t.Fatalf("d1's gate error must not stop d2: got %d jobs", len(enqueuer.jobs))
	}
}

func TestTick_EnqueueFailureReleasesSlot(t *testing.T) {
	gate := dueSet{due: map[string]bool{"d1": true}}
	s, records, enqueuer := newSchedulerFixture(t, gate)
	enqueuer.err = errors.New("broker down")

	n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 0 {
		t.Fatalf("enqueued = %d, want 0", n)
	}
	if len(records.created) != 1 {
		t.Fatalf("created = %d, want 1 pending record before the enqueue attempt", len(records.created))
	}
	rec := records.created[0]
	if rec.Status != analysisdomain.StatusFailed {
		t.Errorf("record status = %s, want failed (slot released)", rec.Status)
	}
	if records.inFlight["d1|"+registry.TypeDeviceHealth] {
		t.Error("slot still occupied after enqueue failure")
	}

	// The next tick can claim the slot again.
	enqueuer.err = nil
	n, err = s.Tick(context.Background(), registry.TypeDeviceHealth)
	if err != nil || n != 1 {
		t.Fatalf("retry tick: n=%d err=%v, want 1 nil", n, err)
	}
}

func TestTick_BatchCapsEnqueuedWorkNotEnumeration(t *testing.T) {
	types, err := registry.New(nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tenant := &entitydomain.Entity{ID: "t1", Kind: entitydomain.KindTenant, Name: "acme", AnalysesEnabled: true}
	devices := []*entitydomain.Entity{}
	due := map[string]bool{}
	ancestors := map[string][]*entitydomain.Entity{}
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5", "d6"} {
		devices = append(devices, &entitydomain.Entity{
			ID: id, Kind: entitydomain.KindDevice, ParentID: "g1",
			Name: id, Platform: "linux", AnalysesEnabled: true,
		})
		due[id] = true
		ancestors[id] = []*entitydomain.Entity{tenant}
	}
	source := &memEntitySource{
		byKind:    map[entitydomain.Kind][]*entitydomain.Entity{entitydomain.KindDevice: devices},
		ancestors: ancestors,
	}
	records := newMemSlotStore()
	enqueuer := &memEnqueuer{}
	s := New(types, source, dueSet{due: due}, records, enqueuer, 2)

	// Every device is due. Each tick enqueues at most the batch, but the
	// in-flight slots from earlier ticks do not eat it, so three ticks cover
	// the whole fleet.
	for tick := 0; tick < 3; tick++ {
		n, err := s.Tick(context.Background(), registry.TypeDeviceHealth)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if n != 2 {
			t.Fatalf("tick %d enqueued %d, want 2", tick, n)
		}
	}

	scheduled := map[string]bool{}
	for _, job := range enqueuer.jobs {
		scheduled[job.EntityID] = true
	}
	for _, d := range devices {
		if !scheduled[d.ID] {
			t.Errorf("device %s was never scheduled", d.ID)
		}
	}
}

func TestTick_UnknownType(t *testing.T) {
	s, _, _ := newSchedulerFixture(t, dueSet{})

	_, err := s.Tick(context.Background(), "mystery")
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownTypeError", err)
	}
}

func TestTick_TenantSchedulesAsItsOwnTenant(t *testing.T) {
	gate := dueSet{due: map[string]bool{"t1": true}}
	s, _, enqueuer := newSchedulerFixture(t, gate)

	n, err := s.Tick(context.Background(), registry.TypeTenantPosture)
	if err != nil || n != 1 {
		t.Fatalf("Tick: n=%d err=%v", n, err)
	}
	if enqueuer.jobs[0].TenantID != "t1" {
		t.Errorf("tenant job billed to %q, want itself", enqueuer.jobs[0].TenantID)
	}
}

type memAuditor struct {
	mu     sync.Mutex
	calls  []string
	errFor map[string]error
}

func (a *memAuditor) Reconcile(ctx context.Context, tenantID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, tenantID)
	return a.errFor[tenantID]
}

func TestReconcilerSweep_AuditsEveryTenant(t *testing.T) {
	// More tenants than one sweep page to exercise the pagination.
	tenants := []*entitydomain.Entity{}
	for i := 0; i < 105; i++ {
		tenants = append(tenants, &entitydomain.Entity{
			ID: fmt.Sprintf("t%03d", i), Kind: entitydomain.KindTenant, AnalysesEnabled: true,
		})
	}
	source := &memEntitySource{
		byKind: map[entitydomain.Kind][]*entitydomain.Entity{entitydomain.KindTenant: tenants},
	}
	auditor := &memAuditor{errFor: map[string]error{"t001": errors.New("balance 5 != entry sum 7")}}

	NewReconciler(source, auditor).Sweep(context.Background())

	if len(auditor.calls) != len(tenants) {
		t.Fatalf("reconciled %d tenants, want %d", len(auditor.calls), len(tenants))
	}
	// t001's mismatch must not have stopped the sweep.
	seen := map[string]bool{}
	for _, id := range auditor.calls {
		seen[id] = true
	}
	for _, tenant := range tenants {
		if !seen[tenant.ID] {
			t.Errorf("tenant %s was not reconciled", tenant.ID)
		}
	}
}

type memReapStore struct {
	mu    sync.Mutex
	calls map[string]time.Time // type -> cutoff
}

func (s *memReapStore) ReapStale(ctx context.Context, analysisType string, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason != reapReason {
		return 0, errors.New("unexpected reason " + reason)
	}
	s.calls[analysisType] = cutoff
	return 1, nil
}

func TestSweep_UsesPerTypeExecutionWindow(t *testing.T) {
	types, err := registry.New(nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := &memReapStore{calls: map[string]time.Time{}}
	r := NewReaper(types, store)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Sweep(context.Background())

	if len(store.calls) != len(types.All()) {
		t.Fatalf("swept %d types, want %d", len(store.calls), len(types.All()))
	}
	for _, def := range types.All() {
		got, ok := store.calls[def.Type]
		if !ok {
			t.Errorf("%s was not swept", def.Type)
			continue
		}
		if want := fixed.Add(-def.MaxExecution); !got.Equal(want) {
			t.Errorf("%s cutoff = %v, want %v", def.Type, got, want)
		}
	}
}
