package sectionplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforgelabs/planforged/internal/plan"
)

func TestBuildPrompt_PositionAware(t *testing.T) {
	specs := Resolve(plan.TierPremium)
	intake := plan.Intake{BusinessName: "Acme Coffee", Industry: "food service"}

	first := BuildPrompt(specs[0], len(specs), plan.TierPremium, intake)
	assert.Contains(t, first, "Write section 1 of 8")
	assert.Contains(t, first, `"Executive Summary"`)
	assert.NotContains(t, first, "do not repeat material", "first section has nothing to repeat")

	third := BuildPrompt(specs[2], len(specs), plan.TierPremium, intake)
	assert.Contains(t, third, "Write section 3 of 8")
	assert.Contains(t, third, "do not repeat material")
}

func TestBuildPrompt_IncludesIntake(t *testing.T) {
	specs := Resolve(plan.TierBasic)
	intake := plan.Intake{
		BusinessName:    "Acme Coffee",
		Industry:        "food service",
		RevenueModel:    "subscription beans",
		FundingRequired: "$250k",
	}

	prompt := BuildPrompt(specs[0], len(specs), plan.TierBasic, intake)
	assert.Contains(t, prompt, "Business name: Acme Coffee")
	assert.Contains(t, prompt, "Industry: food service")
	assert.Contains(t, prompt, "Revenue model: subscription beans")
	assert.Contains(t, prompt, "Funding required: $250k")
}

func TestBuildPrompt_SkipsEmptyFields(t *testing.T) {
	specs := Resolve(plan.TierBasic)
	intake := plan.Intake{BusinessName: "Acme Coffee"}

	prompt := BuildPrompt(specs[0], len(specs), plan.TierBasic, intake)
	assert.Contains(t, prompt, "Business name: Acme Coffee")
	assert.NotContains(t, prompt, "Industry:")
	assert.NotContains(t, prompt, "Traction to date:")
}

func TestBuildPrompt_CarriesInstruction(t *testing.T) {
	specs := Resolve(plan.TierBasic)
	require.NotEmpty(t, specs)

	prompt := BuildPrompt(specs[0], len(specs), plan.TierBasic, plan.Intake{})
	assert.Contains(t, prompt, specs[0].Instruction)
	assert.Contains(t, prompt, "complete, polished prose")
}
