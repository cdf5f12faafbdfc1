package analyzer

import (
	"context"
	"fmt"

	analysisdomain "fleet-insight/engine/internal/analysis/domain"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/registry"
)

// supportedPlatforms are the device platforms the health analysis understands.
var supportedPlatforms = map[string]bool{
	"linux":   true,
	"windows": true,
	"darwin":  true,
	"android": true,
	"rtos":    true,
}

// DeviceAdapter runs device-level analyses. Devices are leaves: their context
// is their own metadata and prior result trend, not child findings.
type DeviceAdapter struct {
	base
}

func (a *DeviceAdapter) Kind() entitydomain.Kind { return entitydomain.KindDevice }

// Validate rejects devices whose platform the analysis cannot evaluate.
// Rejection happens before billing.
func (a *DeviceAdapter) Validate(ctx context.Context, e *entitydomain.Entity) error {
	if err := requireKind(e, entitydomain.KindDevice); err != nil {
		return err
	}
	if e.Platform == "" {
		return fmt.Errorf("device %s has no platform recorded: %w", e.ID, ErrNotApplicable)
	}
	if !supportedPlatforms[e.Platform] {
		return fmt.Errorf("platform %q is not supported for device analysis: %w", e.Platform, ErrNotApplicable)
	}
	return nil
}

func (a *DeviceAdapter) GatherContext(ctx context.Context, e *entitydomain.Entity) (*Context, error) {
	history, err := a.history(ctx, e.ID, registry.TypeDeviceHealth)
	if err != nil {
		return nil, err
	}
	return &Context{
		EntityName: e.Name,
		EntityKind: string(e.Kind),
		Platform:   e.Platform,
		History:    history,
	}, nil
}

func (a *DeviceAdapter) Analyze(ctx context.Context, e *entitydomain.Entity, gathered *Context, criteriaPrompt, exclusionsBlock string) (*Result, error) {
	return a.analyze(ctx, e, gathered, criteriaPrompt, exclusionsBlock)
}

func (a *DeviceAdapter) Persist(ctx context.Context, rec *analysisdomain.Record, res *Result, costCharged *int, scoreMirror bool) error {
	return a.persist(ctx, rec, res, costCharged, scoreMirror)
}
