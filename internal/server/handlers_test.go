package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/planforgelabs/planforged/internal/orchestrator"
	"github.com/planforgelabs/planforged/internal/payments"
	"github.com/planforgelabs/planforged/internal/plan"
)

type fakeProcessor struct {
	sessionID string
	paid      bool
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{
		ID:          f.sessionID,
		URL:         "https://checkout.example.com/" + f.sessionID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}, nil
}

func (f *fakeProcessor) ConfirmPayment(ctx context.Context, sessionID string) (*payments.Confirmation, error) {
	return &payments.Confirmation{SessionID: sessionID, Paid: f.paid}, nil
}

// fakeGenerator records start/cancel calls and returns scripted errors.
type fakeGenerator struct {
	startErr  error
	cancelErr error
	started   []uuid.UUID
	cancelled []uuid.UUID
}

func (f *fakeGenerator) Start(ctx context.Context, planID uuid.UUID) error {
	f.started = append(f.started, planID)
	return f.startErr
}

func (f *fakeGenerator) Cancel(planID uuid.UUID) error {
	f.cancelled = append(f.cancelled, planID)
	return f.cancelErr
}

type testEnv struct {
	srv   *Server
	store *plan.MemoryStore
	gen   *fakeGenerator
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	store := plan.NewMemoryStore()
	svc, err := plan.NewService(nil, store, &fakeProcessor{sessionID: "cs_test_123", paid: true}, zap.NewNop())
	require.NoError(t, err)

	gen := &fakeGenerator{}
	srv, err := NewServer(svc, gen, zap.NewNop(), nil)
	require.NoError(t, err)

	return &testEnv{srv: srv, store: store, gen: gen}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.echo.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createDraft(t *testing.T) *plan.Plan {
	t.Helper()

	p := &plan.Plan{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Tier:   plan.TierBasic,
		State:  plan.StateDraft,
		Intake: plan.Intake{BusinessName: "Acme Coffee"},
	}
	require.NoError(t, e.store.Create(context.Background(), p))
	return p
}

func TestHandleHealth(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleSubmit(t *testing.T) {
	env := newTestServer(t)

	body := fmt.Sprintf(`{
		"user_id": %q,
		"tier": "premium",
		"intake": {"business_name": "Acme Coffee", "industry": "food service"}
	}`, uuid.New())

	rec := env.do(t, http.MethodPost, "/api/v1/plans", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created plan.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, plan.StateDraft, created.State)
	assert.Equal(t, plan.TierPremium, created.Tier)
	assert.Equal(t, "Acme Coffee", created.Intake.BusinessName)
}

func TestHandleSubmit_Validation(t *testing.T) {
	env := newTestServer(t)
	userID := uuid.New()

	tests := []struct {
		name string
		body string
	}{
		{"bad user id", `{"user_id": "not-a-uuid", "tier": "basic", "intake": {"business_name": "x"}}`},
		{"unknown tier", fmt.Sprintf(`{"user_id": %q, "tier": "platinum", "intake": {"business_name": "x"}}`, userID)},
		{"missing business name", fmt.Sprintf(`{"user_id": %q, "tier": "basic", "intake": {}}`, userID)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/plans", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleCheckoutAndVerify(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/checkout", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var checkout CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checkout))
	assert.Equal(t, "cs_test_123", checkout.SessionID)
	assert.NotEmpty(t, checkout.CheckoutURL)

	rec = env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/verify-payment",
		`{"session_id": "cs_test_123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatePaid, got.State)
}

func TestHandleVerifyPayment_Mismatch(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/checkout", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/verify-payment",
		`{"session_id": "cs_forged_999"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleGenerate(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/generate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.gen.started, 1)
	assert.Equal(t, p.ID, env.gen.started[0])
}

func TestHandleGenerate_NotEligible(t *testing.T) {
	env := newTestServer(t)
	env.gen.startErr = orchestrator.ErrNotEligible
	p := env.createDraft(t)

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/generate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCancel(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)
	ctx := context.Background()

	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateDraft, plan.StatePaid))
	require.NoError(t, env.store.StartRun(ctx, p.ID, 5))

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.gen.cancelled, 1)

	// The run settles in the background; until it does the plan is still
	// generating and the response must say so, not presume a terminal state.
	var accepted AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, string(plan.StateGenerating), accepted.State)

	env.gen.cancelErr = orchestrator.ErrNoActiveRun
	rec = env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCancel_ReportsSettledState(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)
	ctx := context.Background()

	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateDraft, plan.StatePaid))
	require.NoError(t, env.store.StartRun(ctx, p.ID, 5))
	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateGenerating, plan.StateFailed))

	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted AcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, string(plan.StateFailed), accepted.State)
}

func TestHandleStatus(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)
	ctx := context.Background()

	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateDraft, plan.StatePaid))
	require.NoError(t, env.store.StartRun(ctx, p.ID, 5))
	require.NoError(t, env.store.UpdateProgress(ctx, p.ID, 40, "building"))

	rec := env.do(t, http.MethodGet, "/api/v1/plans/"+p.ID.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status plan.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, plan.StateGenerating, status.State)
	assert.Equal(t, 40, status.Progress)
	assert.Equal(t, "building", status.StageLabel)
}

func TestHandleDocument(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)
	ctx := context.Background()

	// Not ready yet.
	rec := env.do(t, http.MethodGet, "/api/v1/plans/"+p.ID.String()+"/document", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateDraft, plan.StatePaid))
	require.NoError(t, env.store.StartRun(ctx, p.ID, 5))
	require.NoError(t, env.store.FinishGeneration(ctx, p.ID, plan.StateCompleted, "# Business Plan: Acme Coffee", "ref", 0))

	rec = env.do(t, http.MethodGet, "/api/v1/plans/"+p.ID.String()+"/document", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc.Document, "Acme Coffee")
}

func TestHandleRetry(t *testing.T) {
	env := newTestServer(t)
	p := env.createDraft(t)
	ctx := context.Background()

	// Draft plans cannot be retried.
	rec := env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, env.store.Transition(ctx, p.ID, plan.StateDraft, plan.StatePaid))
	require.NoError(t, env.store.StartRun(ctx, p.ID, 5))
	require.NoError(t, env.store.FinishGeneration(ctx, p.ID, plan.StatePartiallyFailed, "doc", "ref", 4))

	rec = env.do(t, http.MethodPost, "/api/v1/plans/"+p.ID.String()+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatePaid, got.State)
}

func TestHandleList(t *testing.T) {
	env := newTestServer(t)
	userID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, env.store.Create(ctx, &plan.Plan{
			ID:     uuid.New(),
			UserID: userID,
			Tier:   plan.TierBasic,
			State:  plan.StateDraft,
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/v1/plans?user_id="+userID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var plans []plan.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	assert.Len(t, plans, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/plans", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "user_id is required")
}

func TestRequestLogCarriesContextFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	store := plan.NewMemoryStore()
	svc, err := plan.NewService(nil, store, &fakeProcessor{sessionID: "cs_test_123", paid: true}, zap.NewNop())
	require.NoError(t, err)
	srv, err := NewServer(svc, &fakeGenerator{}, zap.New(core), nil)
	require.NoError(t, err)
	env := &testEnv{srv: srv, store: store}

	p := env.createDraft(t)
	rec := env.do(t, http.MethodGet, "/api/v1/plans/"+p.ID.String()+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, p.ID.String(), fields["plan.id"])
	assert.NotEmpty(t, fields["request.id"])
}

func TestUnknownPlanIs404(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/plans/"+uuid.NewString()+"/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadPlanIDIs400(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/plans/not-a-uuid/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
