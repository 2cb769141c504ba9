package sectionplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforgelabs/planforged/internal/plan"
)

func TestResolve_SectionCounts(t *testing.T) {
	assert.Len(t, Resolve(plan.TierBasic), 5)
	assert.Len(t, Resolve(plan.TierPremium), 8)
	assert.Len(t, Resolve(plan.TierEnterprise), 11)
}

func TestResolve_UnknownTierFallsBackToBasic(t *testing.T) {
	specs := Resolve(plan.Tier("platinum"))
	assert.Equal(t, Resolve(plan.TierBasic), specs)
}

func TestResolve_Deterministic(t *testing.T) {
	for _, tier := range []plan.Tier{plan.TierBasic, plan.TierPremium, plan.TierEnterprise} {
		first := Resolve(tier)
		second := Resolve(tier)
		assert.Equal(t, first, second, "tier %s must resolve identically every time", tier)
	}
}

func TestResolve_Ordering(t *testing.T) {
	for _, tier := range []plan.Tier{plan.TierBasic, plan.TierPremium, plan.TierEnterprise} {
		specs := Resolve(tier)

		require.NotEmpty(t, specs)
		assert.Equal(t, "Executive Summary", specs[0].Title)
		assert.Equal(t, "Financial Plan", specs[len(specs)-1].Title)

		for i, spec := range specs {
			assert.Equal(t, i, spec.Index)
			assert.NotEmpty(t, spec.Title)
			assert.NotEmpty(t, spec.Instruction)
			assert.Greater(t, spec.MaxTokens, 0)
		}
	}
}

func TestResolve_HigherTiersExtendLower(t *testing.T) {
	titles := func(specs []SectionSpec) map[string]bool {
		m := make(map[string]bool, len(specs))
		for _, s := range specs {
			m[s.Title] = true
		}
		return m
	}

	premium := titles(Resolve(plan.TierPremium))
	for _, s := range Resolve(plan.TierBasic) {
		assert.True(t, premium[s.Title], "premium must include basic section %q", s.Title)
	}

	enterprise := titles(Resolve(plan.TierEnterprise))
	for _, s := range Resolve(plan.TierPremium) {
		assert.True(t, enterprise[s.Title], "enterprise must include premium section %q", s.Title)
	}
}

func TestResolve_ReturnsFreshCopy(t *testing.T) {
	first := Resolve(plan.TierBasic)
	first[0].Title = "mutated"

	second := Resolve(plan.TierBasic)
	assert.Equal(t, "Executive Summary", second[0].Title)
}
