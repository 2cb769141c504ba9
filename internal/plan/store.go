package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no plan exists for the given id.
	ErrNotFound = errors.New("plan not found")

	// ErrInvalidTransition is returned when a conditional state update
	// matched no row: the plan is not in the expected source state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Store persists plans. All state changes are conditional updates keyed on
// the current state; a zero affected-row count surfaces as
// ErrInvalidTransition rather than silently racing.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Plan, error)

	// SetPaymentSession records the checkout session id on a draft plan.
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error

	// Transition advances state from exactly `from` to `to`.
	Transition(ctx context.Context, id uuid.UUID, from, to State) error

	// StartRun is the generation gate: it moves a paid plan to generating
	// and initializes the run's progress fields in one conditional update.
	// Duplicate start calls observe ErrInvalidTransition and nothing else.
	StartRun(ctx context.Context, id uuid.UUID, sectionsTotal int) error

	// UpdateProgress writes the numeric progress and derived stage label.
	// Only meaningful while the plan is generating.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, stageLabel string) error

	// FinishGeneration atomically moves a generating plan to a terminal
	// output-bearing state and persists the assembled document.
	FinishGeneration(ctx context.Context, id uuid.UUID, to State, document, artifactRef string, sectionsFailed int) error

	// ResetForRetry moves a failed or partially failed plan back to paid,
	// clearing output and progress so a fresh run can start. Payment state
	// is retained; it was already verified.
	ResetForRetry(ctx context.Context, id uuid.UUID) error
}

// gormStore is the Postgres-backed Store.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store over an open gorm connection.
func NewGormStore(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &gormStore{db: db}, nil
}

// Migrate creates or updates the plans table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Plan{})
}

func (s *gormStore) Create(ctx context.Context, p *Plan) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	var p Plan
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return &p, nil
}

func (s *gormStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Plan, error) {
	var plans []*Plan
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

func (s *gormStore) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state = ?", id, StateDraft).
		Update("payment_session_id", sessionID)
	if res.Error != nil {
		return fmt.Errorf("failed to set payment session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) Transition(ctx context.Context, id uuid.UUID, from, to State) error {
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state = ?", id, from).
		Update("state", to)
	if res.Error != nil {
		return fmt.Errorf("failed to transition plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) StartRun(ctx context.Context, id uuid.UUID, sectionsTotal int) error {
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state = ?", id, StatePaid).
		Updates(map[string]any{
			"state":           StateGenerating,
			"sections_total":  sectionsTotal,
			"sections_failed": 0,
			"progress":        0,
			"stage_label":     "analyzing",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to start run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, stageLabel string) error {
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state = ?", id, StateGenerating).
		Updates(map[string]any{
			"progress":    progress,
			"stage_label": stageLabel,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) FinishGeneration(ctx context.Context, id uuid.UUID, to State, document, artifactRef string, sectionsFailed int) error {
	if !to.HasOutput() {
		return fmt.Errorf("state %q cannot carry output: %w", to, ErrInvalidTransition)
	}
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state = ?", id, StateGenerating).
		Updates(map[string]any{
			"state":           to,
			"document":        document,
			"artifact_ref":    artifactRef,
			"sections_failed": sectionsFailed,
			"progress":        100,
			"stage_label":     "finalizing",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finish generation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *gormStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&Plan{}).
		Where("id = ? AND state IN ?", id, []State{StateFailed, StatePartiallyFailed}).
		Updates(map[string]any{
			"state":           StatePaid,
			"document":        nil,
			"artifact_ref":    nil,
			"progress":        0,
			"stage_label":     "",
			"sections_total":  0,
			"sections_failed": 0,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reset plan for retry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

var _ Store = (*gormStore)(nil)
