package plan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. It backs local development without a
// database and doubles as the test store. Conditional updates hold the
// mutex across check and write, giving the same atomicity the SQL store
// gets from single UPDATE statements. Methods observe context cancellation
// the way the SQL store does through WithContext: a cancelled context makes
// the operation fail instead of silently committing.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]*Plan
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[uuid.UUID]*Plan)}
}

func clone(p *Plan) *Plan {
	cp := *p
	if p.Document != nil {
		d := *p.Document
		cp.Document = &d
	}
	if p.ArtifactRef != nil {
		a := *p.ArtifactRef
		cp.ArtifactRef = &a
	}
	if p.Metadata != nil {
		cp.Metadata = append([]byte(nil), p.Metadata...)
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, p *Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.plans[p.ID] = clone(p)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Plan
	for _, p := range m.plans {
		if p.UserID == userID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || p.State != StateDraft {
		return ErrInvalidTransition
	}
	p.PaymentSessionID = sessionID
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from, to State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || p.State != from {
		return ErrInvalidTransition
	}
	p.State = to
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) StartRun(ctx context.Context, id uuid.UUID, sectionsTotal int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || p.State != StatePaid {
		return ErrInvalidTransition
	}
	p.State = StateGenerating
	p.SectionsTotal = sectionsTotal
	p.SectionsFailed = 0
	p.Progress = 0
	p.StageLabel = "analyzing"
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, stageLabel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || p.State != StateGenerating {
		return ErrInvalidTransition
	}
	p.Progress = progress
	p.StageLabel = stageLabel
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FinishGeneration(ctx context.Context, id uuid.UUID, to State, document, artifactRef string, sectionsFailed int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !to.HasOutput() {
		return ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || p.State != StateGenerating {
		return ErrInvalidTransition
	}
	p.State = to
	p.Document = &document
	p.ArtifactRef = &artifactRef
	p.SectionsFailed = sectionsFailed
	p.Progress = 100
	p.StageLabel = "finalizing"
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[id]
	if !ok || (p.State != StateFailed && p.State != StatePartiallyFailed) {
		return ErrInvalidTransition
	}
	p.State = StatePaid
	p.Document = nil
	p.ArtifactRef = nil
	p.Progress = 0
	p.StageLabel = ""
	p.SectionsTotal = 0
	p.SectionsFailed = 0
	p.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
