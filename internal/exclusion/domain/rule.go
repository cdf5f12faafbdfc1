package domain

import "errors"

// MaxTextLen bounds exclusion and priority text, matching the DB constraint.
const MaxTextLen = 500

// Rule is tenant-authored free text narrowing or weighting what an analysis
// should ignore or emphasize, attached at any level of the tree. Rules are
// additive down the hierarchy: a child rule extends its ancestors' rules,
// never replaces them.
type Rule struct {
	EntityKind   string
	EntityID     string
	AnalysisType string
	ExclusionText string
	PriorityText  string
}

// Empty reports whether the rule carries no text at all.
func (r *Rule) Empty() bool {
	return r.ExclusionText == "" && r.PriorityText == ""
}

// Validate validates the rule for persistence. Returns an error describing the first validation failure.
func (r *Rule) Validate() error {
	if r.EntityID == "" {
		return errors.New("entity id is required")
	}
	if r.AnalysisType == "" {
		return errors.New("analysis type is required")
	}
	if len(r.ExclusionText) > MaxTextLen {
		return errors.New("exclusion text exceeds 500 characters")
	}
	if len(r.PriorityText) > MaxTextLen {
		return errors.New("priority text exceeds 500 characters")
	}
	return nil
}
