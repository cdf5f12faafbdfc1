package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
)

type memReader struct {
	mu       sync.Mutex
	children map[string][]*entitydomain.Entity
	latest   map[string][]*analysisdomain.Record // entityID|type
	scores   map[string]*int
}

func newMemReader() *memReader {
	return &memReader{
		children: map[string][]*entitydomain.Entity{},
		latest:   map[string][]*analysisdomain.Record{},
		scores:   map[string]*int{},
	}
}

func (m *memReader) ListChildren(ctx context.Context, parentID string) ([]*entitydomain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.children[parentID], nil
}

func (m *memReader) UpdateHealthScore(ctx context.Context, id string, score *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[id] = score
	return nil
}

func (m *memReader) RecentProcessed(ctx context.Context, entityID, analysisType string, limit int) ([]*analysisdomain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.latest[entityID+"|"+analysisType]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memReader) MarkProcessed(ctx context.Context, id string, score int, narrative string, costCharged *int, analyzedAt time.Time) error {
	return nil
}

type scriptedAnalyst struct {
	lastReq *Request
	result  *Result
}

func (a *scriptedAnalyst) Analyze(ctx context.Context, req *Request) (*Result, error) {
	a.lastReq = req
	if a.result != nil {
		return a.result, nil
	}
	return &Result{Score: 50, Narrative: "ok"}, nil
}

func intp(v int) *int { return &v }

func TestDeviceValidate_Platforms(t *testing.T) {
	adapter := &DeviceAdapter{}

	cases := []struct {
		platform string
		wantErr  bool
	}{
		{"linux", false},
		{"windows", false},
		{"darwin", false},
		{"android", false},
		{"rtos", false},
		{"", true},
		{"solaris", true},
	}
	for _, tc := range cases {
		e := &entitydomain.Entity{ID: "d1", Kind: entitydomain.KindDevice, Platform: tc.platform}
		err := adapter.Validate(context.Background(), e)
		if tc.wantErr {
			if !errors.Is(err, ErrNotApplicable) {
				t.Errorf("platform %q: err = %v, want ErrNotApplicable", tc.platform, err)
			}
		} else if err != nil {
			t.Errorf("platform %q: unexpected error %v", tc.platform, err)
		}
	}
}

func TestValidate_RejectsWrongKind(t *testing.T) {
	adapter := &DeviceAdapter{}
	group := &entitydomain.Entity{ID: "g1", Kind: entitydomain.KindGroup}
	if err := adapter.Validate(context.Background(), group); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("err = %v, want ErrNotApplicable for mis-routed entity", err)
	}
}

func TestParentValidate_RequiresChildren(t *testing.T) {
	reader := newMemReader()
	adapters := NewAdapters(reader, reader, &scriptedAnalyst{})

	empty := &entitydomain.Entity{ID: "g1", Kind: entitydomain.KindGroup, Name: "empty"}
	groupAdapter := Select(adapters, entitydomain.KindGroup)
	if err := groupAdapter.Validate(context.Background(), empty); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("empty group: err = %v, want ErrNotApplicable", err)
	}

	reader.children["g1"] = []*entitydomain.Entity{
		{ID: "d1", Kind: entitydomain.KindDevice, Name: "kiosk-1", Platform: "linux"},
	}
	if err := groupAdapter.Validate(context.Background(), empty); err != nil {
		t.Errorf("populated group: unexpected error %v", err)
	}

	emptyOrg := &entitydomain.Entity{ID: "o1", Kind: entitydomain.KindOrganization, Name: "empty-org"}
	orgAdapter := Select(adapters, entitydomain.KindOrganization)
	if err := orgAdapter.Validate(context.Background(), emptyOrg); !errors.Is(err, ErrNotApplicable) {
		t.Errorf("empty organization: err = %v, want ErrNotApplicable", err)
	}
}

func TestSelect(t *testing.T) {
	reader := newMemReader()
	adapters := NewAdapters(reader, reader, &scriptedAnalyst{})
	if len(adapters) != 4 {
		t.Fatalf("len(adapters) = %d, want 4", len(adapters))
	}
	for _, kind := range []entitydomain.Kind{
		entitydomain.KindDevice, entitydomain.KindGroup,
		entitydomain.KindOrganization, entitydomain.KindTenant,
	} {
		a := Select(adapters, kind)
		if a == nil || a.Kind() != kind {
			t.Errorf("Select(%s) returned %v", kind, a)
		}
	}
	if Select(adapters, entitydomain.Kind("printer")) != nil {
		t.Error("unknown kind must select nil")
	}
}

func TestGroupGatherContext_ChildSummaries(t *testing.T) {
	reader := newMemReader()
	analyzed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reader.children["g1"] = []*entitydomain.Entity{
		{ID: "d1", Kind: entitydomain.KindDevice, Name: "kiosk-1"},
		{ID: "d2", Kind: entitydomain.KindDevice, Name: "kiosk-2"},
	}
	reader.latest["d1|device_health"] = []*analysisdomain.Record{{
		ID: "r-old", EntityID: "d1", Status: analysisdomain.StatusProcessed,
		Score: intp(72), Narrative: strp("intermittent wifi"), AnalyzedAt: &analyzed,
	}}
	// d2 has never been analyzed and must appear unscored.

	adapters := NewAdapters(reader, reader, &scriptedAnalyst{})
	group := &entitydomain.Entity{ID: "g1", Kind: entitydomain.KindGroup, Name: "floor-1"}
	gathered, err := Select(adapters, entitydomain.KindGroup).GatherContext(context.Background(), group)
	if err != nil {
		t.Fatalf("GatherContext: %v", err)
	}

	if len(gathered.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(gathered.Children))
	}
	if gathered.Children[0].Score == nil || *gathered.Children[0].Score != 72 {
		t.Errorf("d1 score = %v, want 72", gathered.Children[0].Score)
	}
	if gathered.Children[1].Score != nil {
		t.Errorf("d2 score = %v, want unscored", gathered.Children[1].Score)
	}

	rendered := gathered.Render()
	for _, want := range []string{"floor-1", "kiosk-1", "72/100", "intermittent wifi", "unscored"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered context missing %q:\n%s", want, rendered)
		}
	}
}

func TestContextRender(t *testing.T) {
	c := &Context{
		EntityName: "kiosk-1",
		EntityKind: "device",
		Platform:   "linux",
		History: []PriorResult{
			{Score: 80, AnalyzedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
			{Score: 75, AnalyzedAt: time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)},
		},
	}
	got := c.Render()
	for _, want := range []string{"Entity: kiosk-1 (device)", "Platform: linux", "80 75"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q:\n%s", want, got)
		}
	}

	minimal := &Context{EntityName: "t1", EntityKind: "tenant"}
	got = minimal.Render()
	if strings.Contains(got, "Platform") || strings.Contains(got, "trend") {
		t.Errorf("minimal context rendered absent sections:\n%s", got)
	}
}

func TestAnalyze_RejectsOutOfRangeScore(t *testing.T) {
	reader := newMemReader()
	analyst := &scriptedAnalyst{result: &Result{Score: 140, Narrative: "broken"}}
	adapters := NewAdapters(reader, reader, analyst)

	device := &entitydomain.Entity{ID: "d1", Kind: entitydomain.KindDevice, Name: "kiosk-1", Platform: "linux"}
	adapter := Select(adapters, entitydomain.KindDevice)
	gathered, err := adapter.GatherContext(context.Background(), device)
	if err != nil {
		t.Fatalf("GatherContext: %v", err)
	}
	if _, err := adapter.Analyze(context.Background(), device, gathered, "criteria", ""); err == nil {
		t.Error("score outside 0..100 must be rejected")
	}
}

func TestAnalyze_ForwardsCustomization(t *testing.T) {
	reader := newMemReader()
	analyst := &scriptedAnalyst{}
	adapters := NewAdapters(reader, reader, analyst)

	device := &entitydomain.Entity{ID: "d1", Kind: entitydomain.KindDevice, Name: "kiosk-1", Platform: "linux"}
	adapter := Select(adapters, entitydomain.KindDevice)
	gathered, err := adapter.GatherContext(context.Background(), device)
	if err != nil {
		t.Fatalf("GatherContext: %v", err)
	}
	if _, err := adapter.Analyze(context.Background(), device, gathered, "tenant criteria", "[tenant: acme]\nExclude: lab racks"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	req := analyst.lastReq
	if req == nil {
		t.Fatal("collaborator was not invoked")
	}
	if req.CriteriaPrompt != "tenant criteria" {
		t.Errorf("criteria = %q", req.CriteriaPrompt)
	}
	if !strings.Contains(req.ExclusionsBlock, "lab racks") {
		t.Errorf("exclusions = %q", req.ExclusionsBlock)
	}
	if !strings.Contains(req.ContextBlock, "kiosk-1") {
		t.Errorf("context = %q", req.ContextBlock)
	}
}

func strp(s string) *string { return &s }
