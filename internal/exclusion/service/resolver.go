package service

import (
	"context"
	"fmt"
	"strings"

	entitydomain "fleet-insight/engine/internal/entity/domain"
	"fleet-insight/engine/internal/exclusion/domain"
)

// RuleRepo is the minimal exclusion repository needed by the resolver.
type RuleRepo interface {
	GetRule(ctx context.Context, entityKind, entityID, analysisType string) (*domain.Rule, error)
	PromptOverride(ctx context.Context, tenantID, analysisType string) (*string, error)
}

// EntityWalker supplies the ancestor chain for hierarchy traversal.
type EntityWalker interface {
	Ancestors(ctx context.Context, id string) ([]*entitydomain.Entity, error)
}

// DefaultPrompts supplies built-in criteria prompts; satisfied by the analysis type registry.
type DefaultPrompts interface {
	DefaultPrompt(analysisType string) (string, bool)
}

// Resolved is the customization applied to one analysis invocation.
type Resolved struct {
	// CriteriaPrompt is the tenant's customized criteria, or the built-in default.
	CriteriaPrompt string
	// ExclusionsBlock is the accumulated exclusion/priority text, tenant rule
	// first and the entity's own rule last. Empty when no level has a rule.
	ExclusionsBlock string
}

// Resolver computes the inherited customization for (entity, analysis type).
// It only reads stored configuration: identical inputs yield identical output.
type Resolver struct {
	rules    RuleRepo
	entities EntityWalker
	prompts  DefaultPrompts
}

// NewResolver returns a Resolver with the given dependencies.
func NewResolver(rules RuleRepo, entities EntityWalker, prompts DefaultPrompts) *Resolver {
	return &Resolver{rules: rules, entities: entities, prompts: prompts}
}

// Resolve walks from the tenant root down to the entity, concatenating each
// level's rule for the analysis type. Ancestor rules come first so the most
// specific rule reads as a refinement; levels without a rule are omitted
// entirely. The criteria prompt is the tenant override if customized, else
// the built-in default for the type.
func (s *Resolver) Resolve(ctx context.Context, e *entitydomain.Entity, analysisType string) (*Resolved, error) {
	ancestors, err := s.entities.Ancestors(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	// Root-first chain ending at the entity itself.
	chain := make([]*entitydomain.Entity, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		chain = append(chain, ancestors[i])
	}
	chain = append(chain, e)

	tenantID := chain[0].ID
	if chain[0].Kind != entitydomain.KindTenant {
		return nil, fmt.Errorf("entity %s is not rooted at a tenant", e.ID)
	}

	sections := []string{}
	for _, level := range chain {
		rule, err := s.rules.GetRule(ctx, string(level.Kind), level.ID, analysisType)
		if err != nil {
			return nil, err
		}
		if rule == nil || rule.Empty() {
			continue
		}
		sections = append(sections, formatRule(level, rule))
	}

	prompt, err := s.criteriaPrompt(ctx, tenantID, analysisType)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		CriteriaPrompt:  prompt,
		ExclusionsBlock: strings.Join(sections, "\n\n"),
	}, nil
}

func (s *Resolver) criteriaPrompt(ctx context.Context, tenantID, analysisType string) (string, error) {
	override, err := s.rules.PromptOverride(ctx, tenantID, analysisType)
	if err != nil {
		return "", err
	}
	if override != nil {
		return *override, nil
	}
	prompt, ok := s.prompts.DefaultPrompt(analysisType)
	if !ok {
		return "", fmt.Errorf("no default prompt for analysis type %q", analysisType)
	}
	return prompt, nil
}

func formatRule(level *entitydomain.Entity, rule *domain.Rule) string {
	lines := []string{fmt.Sprintf("[%s: %s]", level.Kind, level.Name)}
	if rule.ExclusionText != "" {
		lines = append(lines, "Exclude: "+rule.ExclusionText)
	}
	if rule.PriorityText != "" {
		lines = append(lines, "Prioritize: "+rule.PriorityText)
	}
	return strings.Join(lines, "\n")
}
