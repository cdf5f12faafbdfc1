package analyzer

import (
	"fmt"
	"strings"
	"time"
)

// historyLimit caps how many prior results feed the trend context.
const historyLimit = 5

// ChildSummary is one direct child's latest finding.
type ChildSummary struct {
	Name       string
	Kind       string
	Score      *int
	Narrative  string
	AnalyzedAt time.Time
}

// PriorResult is one earlier processed result for the entity itself.
type PriorResult struct {
	Score      int
	AnalyzedAt time.Time
}

// Context is the gathered input for one analysis invocation.
type Context struct {
	EntityName string
	EntityKind string
	Platform   string
	Children   []ChildSummary
	// History is the entity's own prior results, newest first.
	History []PriorResult
}

// Render formats the context as the text block sent to the collaborator.
func (c *Context) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s (%s)\n", c.EntityName, c.EntityKind)
	if c.Platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", c.Platform)
	}
	if len(c.Children) > 0 {
		fmt.Fprintf(&b, "\nLatest findings for %d members:\n", len(c.Children))
		for _, ch := range c.Children {
			score := "unscored"
			if ch.Score != nil {
				score = fmt.Sprintf("%d/100", *ch.Score)
			}
			fmt.Fprintf(&b, "- %s (%s, %s", ch.Name, ch.Kind, score)
			if !ch.AnalyzedAt.IsZero() {
				fmt.Fprintf(&b, ", analyzed %s", ch.AnalyzedAt.Format(time.RFC3339))
			}
			b.WriteString(")")
			if ch.Narrative != "" {
				fmt.Fprintf(&b, ": %s", ch.Narrative)
			}
			b.WriteString("\n")
		}
	}
	if len(c.History) > 0 {
		b.WriteString("\nScore trend (newest first):")
		for _, h := range c.History {
			fmt.Fprintf(&b, " %d", h.Score)
		}
		b.WriteString("\n")
	}
	return b.String()
}
