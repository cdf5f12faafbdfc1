package aggregate

import (
	"context"
	"sync"
	"testing"

	entitydomain "fleet-insight/engine/internal/entity/domain"
)

type memEntityStore struct {
	mu     sync.Mutex
	byID   map[string]*entitydomain.Entity
	writes int
}

func newMemEntityStore(entities ...*entitydomain.Entity) *memEntityStore {
	s := &memEntityStore{byID: map[string]*entitydomain.Entity{}}
	for _, e := range entities {
		s.byID[e.ID] = e
	}
	return s
}

func (s *memEntityStore) ListByKind(ctx context.Context, kind entitydomain.Kind, limit int) ([]*entitydomain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entitydomain.Entity{}
	for _, e := range s.byID {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEntityStore) ListChildren(ctx context.Context, parentID string) ([]*entitydomain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entitydomain.Entity{}
	for _, e := range s.byID {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEntityStore) UpdateHealthScore(ctx context.Context, id string, score *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.byID[id].HealthScore = score
	return nil
}

func scoreOf(v int) *int { return &v }

func TestMeanScore_RoundsArithmeticMean(t *testing.T) {
	children := []*entitydomain.Entity{
		{HealthScore: scoreOf(80)},
		{HealthScore: scoreOf(90)},
		{HealthScore: scoreOf(70)},
	}
	mean, ok := MeanScore(children)
	if !ok {
		t.Fatal("MeanScore should succeed with scored children")
	}
	if mean != 80 {
		t.Errorf("mean = %d, want 80", mean)
	}
}

func TestMeanScore_SkipsUnscoredChildren(t *testing.T) {
	children := []*entitydomain.Entity{
		{HealthScore: scoreOf(60)},
		{HealthScore: nil},
		{HealthScore: scoreOf(61)},
	}
	mean, ok := MeanScore(children)
	if !ok {
		t.Fatal("MeanScore should succeed")
	}
	// (60+61)/2 = 60.5 rounds to 61.
	if mean != 61 {
		t.Errorf("mean = %d, want 61", mean)
	}
}

func TestMeanScore_NoScoredChildren(t *testing.T) {
	if _, ok := MeanScore([]*entitydomain.Entity{{HealthScore: nil}}); ok {
		t.Error("MeanScore should report no result without scored children")
	}
	if _, ok := MeanScore(nil); ok {
		t.Error("MeanScore should report no result for no children")
	}
}

func treeFixture() *memEntityStore {
	return newMemEntityStore(
		&entitydomain.Entity{ID: "t1", Kind: entitydomain.KindTenant},
		&entitydomain.Entity{ID: "o1", Kind: entitydomain.KindOrganization, ParentID: "t1"},
		&entitydomain.Entity{ID: "g1", Kind: entitydomain.KindGroup, ParentID: "o1"},
		&entitydomain.Entity{ID: "g2", Kind: entitydomain.KindGroup, ParentID: "o1"},
		&entitydomain.Entity{ID: "d1", Kind: entitydomain.KindDevice, ParentID: "g1", HealthScore: scoreOf(80)},
		&entitydomain.Entity{ID: "d2", Kind: entitydomain.KindDevice, ParentID: "g1", HealthScore: scoreOf(90)},
		&entitydomain.Entity{ID: "d3", Kind: entitydomain.KindDevice, ParentID: "g1", HealthScore: scoreOf(70)},
	)
}

func TestRecompute_CascadesBottomUp(t *testing.T) {
	store := treeFixture()
	agg := New(store)

	if err := agg.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if got := store.byID["g1"].HealthScore; got == nil || *got != 80 {
		t.Errorf("group score = %v, want 80", got)
	}
	if got := store.byID["o1"].HealthScore; got == nil || *got != 80 {
		t.Errorf("organization score = %v, want 80", got)
	}
	if got := store.byID["t1"].HealthScore; got == nil || *got != 80 {
		t.Errorf("tenant score = %v, want 80", got)
	}
}

func TestRecompute_EmptyGroupStaysNull(t *testing.T) {
	store := treeFixture()
	agg := New(store)

	if err := agg.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if got := store.byID["g2"].HealthScore; got != nil {
		t.Errorf("empty group score = %d, want null", *got)
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	store := treeFixture()
	agg := New(store)

	if err := agg.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	first := map[string]*int{}
	for id, e := range store.byID {
		first[id] = e.HealthScore
	}
	writesAfterFirst := store.writes

	if err := agg.Recompute(context.Background()); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	for id, e := range store.byID {
		a, b := first[id], e.HealthScore
		if (a == nil) != (b == nil) || (a != nil && *a != *b) {
			t.Errorf("score for %s changed on second run", id)
		}
	}
	if store.writes != writesAfterFirst {
		t.Errorf("second run wrote %d times, want 0", store.writes-writesAfterFirst)
	}
}
