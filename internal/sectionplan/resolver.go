// Package sectionplan maps a subscription tier to the ordered list of
// document sections a generation run produces.
//
// Resolution is pure: the same tier always yields the same sections in the
// same order with the same token limits. The list is produced fresh per run and
// never persisted, so a tier change cannot retroactively alter a run that
// already started.
package sectionplan

import "github.com/planforgelabs/planforged/internal/plan"

// SectionSpec is one ordered unit of the generated document.
type SectionSpec struct {
	// Index is the zero-based position in the document.
	Index int

	// Title is the section heading.
	Title string

	// Instruction is the section-specific writing brief handed to the
	// completion provider.
	Instruction string

	// MaxTokens bounds the provider's output for this section.
	MaxTokens int
}

type sectionDef struct {
	title       string
	instruction string
	maxTokens   int
}

// Section briefs. Ordering matters: later sections are prompted with
// awareness of their position and must not repeat earlier material, and
// financial/scalability sections deliberately come last.
var (
	basicSections = []sectionDef{
		{"Executive Summary",
			"Summarize the business: what it does, for whom, and why it will succeed. Cover the problem, the solution, and the funding ask at a high level.",
			900},
		{"Business Overview",
			"Describe the business model, the product or service offering, and how the company creates and captures value.",
			1100},
		{"Market Analysis",
			"Analyze the target market: size, growth, customer segments, and the competitive landscape. Position the business within it.",
			1200},
		{"Products and Services",
			"Detail the products or services, their development status, differentiation, and roadmap.",
			1100},
		{"Financial Plan",
			"Lay out the funding requirement, use of funds, revenue model, and a realistic path to sustainability.",
			1300},
	}

	premiumSections = []sectionDef{
		basicSections[0],
		basicSections[1],
		basicSections[2],
		{"Competitive Landscape",
			"Examine direct and indirect competitors, their strengths and weaknesses, and the company's sustainable advantages over each.",
			1100},
		basicSections[3],
		{"Marketing and Sales Strategy",
			"Describe customer acquisition channels, pricing strategy, sales process, and how the go-to-market plan reaches the target segments.",
			1200},
		{"Operations Plan",
			"Explain how the business runs day to day: suppliers, processes, facilities, tooling, and key operational dependencies.",
			1100},
		basicSections[4],
	}

	enterpriseSections = []sectionDef{
		premiumSections[0],
		premiumSections[1],
		premiumSections[2],
		premiumSections[3],
		premiumSections[4],
		premiumSections[5],
		premiumSections[6],
		{"Team and Governance",
			"Present the founding team, their relevant background, advisory support, and the governance structure as the company grows.",
			1100},
		{"Scalability and Growth",
			"Set out the growth strategy: expansion into new segments or geographies, hiring plan, and how the model scales without degrading unit economics.",
			1300},
		{"Risk Assessment",
			"Identify the principal market, operational, financial, and regulatory risks, and the mitigations planned for each.",
			1100},
		premiumSections[7],
	}
)

// Resolve returns the ordered section plan for a tier. An unknown tier
// falls back to the basic plan so a data inconsistency can never stall the
// pipeline. The returned slice is a fresh copy on every call.
func Resolve(tier plan.Tier) []SectionSpec {
	var defs []sectionDef
	switch tier {
	case plan.TierPremium:
		defs = premiumSections
	case plan.TierEnterprise:
		defs = enterpriseSections
	default:
		defs = basicSections
	}

	specs := make([]SectionSpec, len(defs))
	for i, d := range defs {
		specs[i] = SectionSpec{
			Index:       i,
			Title:       d.title,
			Instruction: d.instruction,
			MaxTokens:   d.maxTokens,
		}
	}
	return specs
}
