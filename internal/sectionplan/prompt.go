package sectionplan

import (
	"fmt"
	"strings"

	"github.com/planforgelabs/planforged/internal/plan"
)

// BuildPrompt assembles the full instruction for one section call: a
// position-aware system brief, the questionnaire serialized as a labeled
// context block, and a directive to produce complete prose.
//
// Each call is independent; later sections see their position but never the
// text of earlier sections.
func BuildPrompt(spec SectionSpec, totalSections int, tier plan.Tier, in plan.Intake) string {
	var b strings.Builder

	fmt.Fprintf(&b,
		"You are an experienced business plan writer producing the %q tier plan for the business described below.\n",
		tier)
	fmt.Fprintf(&b,
		"Write section %d of %d, titled %q.\n",
		spec.Index+1, totalSections, spec.Title)
	if spec.Index > 0 {
		b.WriteString("Earlier sections already introduced the business; do not repeat material they cover.\n")
	}
	b.WriteString("\n")
	b.WriteString(spec.Instruction)
	b.WriteString("\n\n")

	b.WriteString("Business details:\n")
	writeIntake(&b, in)
	b.WriteString("\n")

	b.WriteString("Write complete, polished prose for this section. Do not produce an outline, bullet-point skeleton, or headings within the section.")
	return b.String()
}

func writeIntake(b *strings.Builder, in plan.Intake) {
	fields := []struct {
		label string
		value string
	}{
		{"Business name", in.BusinessName},
		{"Industry", in.Industry},
		{"Problem statement", in.ProblemStatement},
		{"Solution", in.Solution},
		{"Target market", in.TargetMarket},
		{"Market size", in.MarketSize},
		{"Competitive landscape", in.CompetitiveLandscape},
		{"Revenue model", in.RevenueModel},
		{"Funding required", in.FundingRequired},
		{"Use of funds", in.FundingUse},
		{"Founder background", in.FounderBackground},
		{"Team overview", in.TeamOverview},
		{"Traction to date", in.TractionToDate},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(b, "- %s: %s\n", f.label, f.value)
	}
}
