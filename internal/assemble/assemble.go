// Package assemble stitches generated section texts into one document.
//
// Assembly is pure and deterministic: a fixed header block, then each
// section under its own heading separated by a visible divider. The package
// also derives the artifact reference the download endpoint resolves.
package assemble

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planforgelabs/planforged/internal/plan"
)

const divider = "\n\n---\n\n"

// Section is one generated (or placeholder) unit of the document.
type Section struct {
	Title  string
	Body   string
	Failed bool
}

// Meta is the plan metadata rendered into the document header.
type Meta struct {
	BusinessName string
	Industry     string
	Tier         plan.Tier
	GeneratedAt  time.Time
}

// Document renders the full document body: header block, then every
// section in order under a numbered heading.
func Document(meta Meta, sections []Section) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Business Plan: %s\n\n", meta.BusinessName)
	fmt.Fprintf(&b, "- Industry: %s\n", meta.Industry)
	fmt.Fprintf(&b, "- Service tier: %s\n", meta.Tier)
	fmt.Fprintf(&b, "- Generated: %s\n", meta.GeneratedAt.Format("2 January 2006"))

	for i, s := range sections {
		b.WriteString(divider)
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, s.Title)
		if s.Failed {
			b.WriteString("*(automatic generation unavailable)*\n\n")
		}
		b.WriteString(strings.TrimSpace(s.Body))
	}
	b.WriteString("\n")

	return b.String()
}

// ArtifactRef derives the stable, plan-id-addressed path the download
// endpoint serves the rendered document from.
func ArtifactRef(planID uuid.UUID) string {
	return fmt.Sprintf("/api/v1/plans/%s/document", planID)
}

// Placeholder is the inline text substituted for a section whose
// generation call failed.
func Placeholder(title string) string {
	return fmt.Sprintf(
		"The %q section could not be generated. Your plan is otherwise complete; contact support to have this section regenerated at no charge.",
		title)
}
