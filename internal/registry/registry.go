// Package registry is the statically compiled catalog of analysis types.
// Types are a fixed list built at startup; there is no runtime discovery.
package registry

import (
	"fmt"
	"sync"
	"time"

	entitydomain "fleet-insight/engine/internal/entity/domain"
)

// Analysis type identifiers. Adding a type means adding it here and to builtins.
const (
	TypeDeviceHealth       = "device_health"
	TypeGroupHealth        = "group_health"
	TypeOrganizationHealth = "organization_health"
	TypeTenantPosture      = "tenant_posture"
)

// Definition describes one analysis type: what it targets, what it costs,
// how it is scheduled, and the built-in criteria prompt used when the tenant
// has not customized it.
type Definition struct {
	Type          string
	Description   string
	TargetKind    entitydomain.Kind
	DefaultCost   int
	DefaultPrompt string
	// Interval is the schedule period. For dependency-gated types it bounds
	// how often the gate is consulted; for the rest it is the re-run spacing.
	Interval time.Duration
	// MaxExecution bounds how long a processing record may live before the
	// reaper reclaims its slot.
	MaxExecution time.Duration
	// ChildTypes are the child-level analysis types whose completion counts
	// as new intelligence for the dependency gate. Empty means the type is
	// scheduled on elapsed time alone.
	ChildTypes []string
	// WritesHealthScore marks the single type per entity kind whose Persist
	// step mirrors the score onto the entity row.
	WritesHealthScore bool
}

// DependencyGated reports whether scheduling waits on new child intelligence.
func (d Definition) DependencyGated() bool {
	return len(d.ChildTypes) > 0
}

func builtins() []Definition {
	return []Definition{
		{
			Type:        TypeDeviceHealth,
			Description: "Per-device health and behavior evaluation from recent telemetry.",
			TargetKind:  entitydomain.KindDevice,
			DefaultCost: 1,
			DefaultPrompt: "Evaluate the device's health from its recent telemetry summary and prior " +
				"analysis trend. Weigh connectivity stability, error rates, and resource pressure. " +
				"Produce a 0-100 health score and a short narrative.",
			Interval:          30 * time.Minute,
			MaxExecution:      5 * time.Minute,
			WritesHealthScore: true,
		},
		{
			Type:        TypeGroupHealth,
			Description: "Group-level rollup analysis over member device findings.",
			TargetKind:  entitydomain.KindGroup,
			DefaultCost: 3,
			DefaultPrompt: "Evaluate the group's overall health from its member devices' latest " +
				"findings. Identify shared failure patterns and outlier devices. Produce a 0-100 " +
				"health score and a short narrative.",
			Interval:          time.Hour,
			MaxExecution:      10 * time.Minute,
			ChildTypes:        []string{TypeDeviceHealth},
			WritesHealthScore: true,
		},
		{
			Type:        TypeOrganizationHealth,
			Description: "Organization-level rollup analysis over group findings.",
			TargetKind:  entitydomain.KindOrganization,
			DefaultCost: 5,
			DefaultPrompt: "Evaluate the organization's fleet health from its groups' latest findings. " +
				"Call out systemic issues that span groups. Produce a 0-100 health score and a short " +
				"narrative.",
			Interval:          2 * time.Hour,
			MaxExecution:      10 * time.Minute,
			ChildTypes:        []string{TypeGroupHealth},
			WritesHealthScore: true,
		},
		{
			Type:        TypeTenantPosture,
			Description: "Tenant-wide posture summary on a fixed daily schedule.",
			TargetKind:  entitydomain.KindTenant,
			DefaultCost: 10,
			DefaultPrompt: "Summarize the tenant's overall fleet posture from its organizations' " +
				"latest findings and score trend. Produce a 0-100 posture score and a short " +
				"executive narrative.",
			Interval:          24 * time.Hour,
			MaxExecution:      15 * time.Minute,
			WritesHealthScore: true,
		},
	}
}

// Registry holds the compiled analysis type definitions. Construct with New
// and pass explicitly to the scheduler, workers, and ledger; there is no
// package-level instance.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// New builds a registry from the built-in definitions with optional cost and
// interval overrides applied (from configuration). Overrides for unknown
// types are an error: they indicate a typo, not a new type.
func New(costOverrides map[string]int, intervalOverrides map[string]time.Duration) (*Registry, error) {
	r := &Registry{}
	if err := r.reload(costOverrides, intervalOverrides); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the definitions from the built-in list with fresh
// overrides. Replaces the previous state wholesale.
func (r *Registry) Reload(costOverrides map[string]int, intervalOverrides map[string]time.Duration) error {
	return r.reload(costOverrides, intervalOverrides)
}

func (r *Registry) reload(costOverrides map[string]int, intervalOverrides map[string]time.Duration) error {
	defs := map[string]Definition{}
	order := []string{}
	for _, d := range builtins() {
		defs[d.Type] = d
		order = append(order, d.Type)
	}
	for t, cost := range costOverrides {
		d, ok := defs[t]
		if !ok {
			return fmt.Errorf("cost override for unknown analysis type %q", t)
		}
		d.DefaultCost = cost
		defs[t] = d
	}
	for t, interval := range intervalOverrides {
		d, ok := defs[t]
		if !ok {
			return fmt.Errorf("interval override for unknown analysis type %q", t)
		}
		d.Interval = interval
		defs[t] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = defs
	r.order = order
	return nil
}

// Get returns the definition for the type, and whether it exists.
func (r *Registry) Get(analysisType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[analysisType]
	return d, ok
}

// All returns every definition in declaration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.defs[t])
	}
	return out
}

// DefaultCost returns the type's default token cost. Satisfies the quota
// service's CostTable.
func (r *Registry) DefaultCost(analysisType string) (int, bool) {
	d, ok := r.Get(analysisType)
	if !ok {
		return 0, false
	}
	return d.DefaultCost, true
}

// DefaultPrompt returns the type's built-in criteria prompt.
func (r *Registry) DefaultPrompt(analysisType string) (string, bool) {
	d, ok := r.Get(analysisType)
	if !ok {
		return "", false
	}
	return d.DefaultPrompt, true
}
