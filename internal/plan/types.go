package plan

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// State is a plan's lifecycle state.
type State string

const (
	// StateDraft is a submitted questionnaire awaiting payment.
	StateDraft State = "draft"
	// StatePaid means payment was verified; generation may start.
	StatePaid State = "paid"
	// StateGenerating means a generation run is in flight.
	StateGenerating State = "generating"
	// StateCompleted is terminal with a full document.
	StateCompleted State = "completed"
	// StatePartiallyFailed is terminal with a document in which too many
	// sections fell back to placeholders.
	StatePartiallyFailed State = "partially_failed"
	// StateFailed is terminal with no document.
	StateFailed State = "failed"
)

// Terminal reports whether no further forward transition exists.
// Retry is the single sanctioned re-entry and goes through Store.ResetForRetry.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyFailed, StateFailed:
		return true
	}
	return false
}

// HasOutput reports whether the state carries a generated document.
func (s State) HasOutput() bool {
	return s == StateCompleted || s == StatePartiallyFailed
}

// Tier is the purchased service level.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Known reports whether the tier is one of the sold tiers.
func (t Tier) Known() bool {
	switch t {
	case TierBasic, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// Intake is the structured questionnaire payload collected at submission.
// The pipeline reads it for prompt context and never mutates it.
type Intake struct {
	BusinessName         string `json:"business_name"`
	Industry             string `json:"industry"`
	ProblemStatement     string `json:"problem_statement"`
	Solution             string `json:"solution"`
	TargetMarket         string `json:"target_market"`
	MarketSize           string `json:"market_size"`
	CompetitiveLandscape string `json:"competitive_landscape"`
	RevenueModel         string `json:"revenue_model"`
	FundingRequired      string `json:"funding_required"`
	FundingUse           string `json:"funding_use"`
	FounderBackground    string `json:"founder_background"`
	TeamOverview         string `json:"team_overview"`
	TractionToDate       string `json:"traction_to_date"`
}

// Plan is the persistent record of one document-generation job.
type Plan struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Tier  Tier  `gorm:"type:varchar(20);not null" json:"tier"`
	State State `gorm:"type:varchar(20);not null;index" json:"state"`

	Intake Intake `gorm:"serializer:json;type:jsonb" json:"intake"`

	// Metadata is an opaque client-supplied payload (referrer, campaign tags).
	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Progress fields, mutated only by the orchestrator while generating.
	StageLabel     string `gorm:"column:stage_label" json:"stage_label"`
	Progress       int    `gorm:"not null;default:0" json:"progress"`
	SectionsTotal  int    `gorm:"not null;default:0" json:"sections_total"`
	SectionsFailed int    `gorm:"not null;default:0" json:"sections_failed"`

	// PaymentSessionID correlates the checkout session; it is set once at
	// checkout creation and checked for equality on verification.
	PaymentSessionID string `gorm:"type:varchar(255)" json:"-"`

	// Output fields. Non-nil iff State.HasOutput().
	Document    *string `gorm:"type:text" json:"-"`
	ArtifactRef *string `gorm:"type:varchar(255)" json:"artifact_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// TableName implements gorm's Tabler.
func (Plan) TableName() string { return "plans" }

// Status is the read-only projection served to polling clients.
type Status struct {
	PlanID      uuid.UUID `json:"plan_id"`
	State       State     `json:"state"`
	StageLabel  string    `json:"stage_label"`
	Progress    int       `json:"progress"`
	Tier        Tier      `json:"tier"`
	ArtifactRef *string   `json:"artifact_ref,omitempty"`
}
