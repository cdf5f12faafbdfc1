package domain

import (
	"errors"
	"time"
)

// Kind is the level of an entity in the ownership tree.
type Kind string

const (
	KindTenant       Kind = "tenant"
	KindOrganization Kind = "organization"
	KindGroup        Kind = "group"
	KindDevice       Kind = "device"
)

// ParentKind returns the kind one level up, or "" for tenant.
func ParentKind(k Kind) Kind {
	switch k {
	case KindDevice:
		return KindGroup
	case KindGroup:
		return KindOrganization
	case KindOrganization:
		return KindTenant
	default:
		return ""
	}
}

// ChildKind returns the kind one level down, or "" for device.
func ChildKind(k Kind) Kind {
	switch k {
	case KindTenant:
		return KindOrganization
	case KindOrganization:
		return KindGroup
	case KindGroup:
		return KindDevice
	default:
		return ""
	}
}

// Entity is a node in the tenant → organization → group → device tree.
// The tree is strict: every non-tenant entity has exactly one parent of the
// next level up, enforced by referential integrity.
type Entity struct {
	ID       string
	Kind     Kind
	ParentID string // empty for tenant
	Name     string
	Platform string // device only; informs analysis applicability
	// HealthScore is nil until a health analysis or the aggregator sets it.
	HealthScore     *int
	AnalysesEnabled bool
	// AnalysisToggles disables individual analysis types; absent means enabled.
	AnalysisToggles map[string]bool
	CreatedAt       time.Time
}

// AnalysisEnabled reports whether the given analysis type may run for this
// entity: the master switch must be on and the per-type toggle not off.
func (e *Entity) AnalysisEnabled(analysisType string) bool {
	if !e.AnalysesEnabled {
		return false
	}
	if enabled, ok := e.AnalysisToggles[analysisType]; ok {
		return enabled
	}
	return true
}

// Validate validates the entity for persistence. Returns an error describing the first validation failure.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return errors.New("name is required")
	}
	switch e.Kind {
	case KindTenant, KindOrganization, KindGroup, KindDevice:
	default:
		return errors.New("kind must be tenant, organization, group, or device")
	}
	if e.Kind == KindTenant && e.ParentID != "" {
		return errors.New("tenant must not have a parent")
	}
	if e.Kind != KindTenant && e.ParentID == "" {
		return errors.New("non-tenant entity requires a parent")
	}
	if e.HealthScore != nil && (*e.HealthScore < 0 || *e.HealthScore > 100) {
		return errors.New("health score must be between 0 and 100")
	}
	return nil
}
