package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/planforgelabs/planforged/internal/payments"
)

const instrumentationName = "github.com/planforgelabs/planforged/internal/plan"

var (
	// ErrSessionMismatch means the verification request carried a payment
	// session id that does not match the one recorded at checkout creation.
	// Treated as a security violation: rejected, never retried.
	ErrSessionMismatch = errors.New("payment session mismatch")

	// ErrNotReady means the plan has no generated document yet.
	ErrNotReady = errors.New("document not ready")
)

// Service exposes the plan lifecycle operations that sit in front of the
// generation pipeline: submission, checkout, payment verification, retry,
// and the read-only status projection.
type Service interface {
	Submit(ctx context.Context, req *SubmitRequest) (*Plan, error)
	Get(ctx context.Context, id uuid.UUID) (*Plan, error)
	List(ctx context.Context, userID uuid.UUID) ([]*Plan, error)

	CreateCheckout(ctx context.Context, planID uuid.UUID) (*payments.CheckoutSession, error)
	VerifyPayment(ctx context.Context, planID uuid.UUID, sessionID string) error
	Retry(ctx context.Context, planID uuid.UUID) error

	Status(ctx context.Context, planID uuid.UUID) (*Status, error)
	Document(ctx context.Context, planID uuid.UUID) (string, error)
}

// SubmitRequest carries a validated questionnaire submission.
type SubmitRequest struct {
	UserID   uuid.UUID
	Tier     Tier
	Intake   Intake
	Metadata datatypes.JSON
}

// Config configures the plan service.
type Config struct {
	// PriceCents maps tier to checkout amount.
	PriceCents map[Tier]int64

	// Currency is the ISO 4217 checkout currency.
	Currency string
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		PriceCents: map[Tier]int64{
			TierBasic:      4900,
			TierPremium:    9900,
			TierEnterprise: 19900,
		},
		Currency: "usd",
	}
}

type service struct {
	config    *Config
	store     Store
	processor payments.Processor
	logger    *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	submitCounter   metric.Int64Counter
	verifyCounter   metric.Int64Counter
	mismatchCounter metric.Int64Counter
}

// NewService creates a plan service.
func NewService(cfg *Config, store Store, processor payments.Processor, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if store == nil {
		return nil, errors.New("plan store is required")
	}
	if processor == nil {
		return nil, errors.New("payment processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:    cfg,
		store:     store,
		processor: processor,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.submitCounter, err = s.meter.Int64Counter(
		"planforged.plan.submissions_total",
		metric.WithDescription("Total questionnaire submissions creating a plan"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		s.logger.Warn("failed to create submit counter", zap.Error(err))
	}

	s.verifyCounter, err = s.meter.Int64Counter(
		"planforged.plan.payment_verifications_total",
		metric.WithDescription("Payment verification attempts labeled by outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		s.logger.Warn("failed to create verify counter", zap.Error(err))
	}

	s.mismatchCounter, err = s.meter.Int64Counter(
		"planforged.plan.session_mismatches_total",
		metric.WithDescription("Payment verifications rejected for session id mismatch"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		s.logger.Warn("failed to create mismatch counter", zap.Error(err))
	}
}

func (s *service) Submit(ctx context.Context, req *SubmitRequest) (*Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plan.submit")
	defer span.End()

	tier := req.Tier
	if !tier.Known() {
		// Unknown tiers are tolerated downstream (the resolver falls back
		// to basic), but a submission with a made-up tier is client error.
		return nil, fmt.Errorf("unknown tier %q", req.Tier)
	}

	p := &Plan{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Tier:     tier,
		State:    StateDraft,
		Intake:   req.Intake,
		Metadata: req.Metadata,
	}

	if err := s.store.Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.submitCounter != nil {
		s.submitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", string(tier)),
		))
	}

	s.logger.Info("plan submitted",
		zap.String("plan_id", p.ID.String()),
		zap.String("user_id", p.UserID.String()),
		zap.String("tier", string(tier)),
	)

	span.SetAttributes(attribute.String("plan_id", p.ID.String()))
	return p, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.store.Get(ctx, id)
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]*Plan, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *service) CreateCheckout(ctx context.Context, planID uuid.UUID) (*payments.CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "plan.create_checkout")
	defer span.End()

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.State != StateDraft {
		return nil, fmt.Errorf("plan %s is %s, checkout requires draft: %w", planID, p.State, ErrInvalidTransition)
	}

	amount, ok := s.config.PriceCents[p.Tier]
	if !ok {
		amount = s.config.PriceCents[TierBasic]
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		PlanID:      planID.String(),
		ProductName: fmt.Sprintf("Business plan (%s tier)", p.Tier),
		AmountCents: amount,
		Currency:    s.config.Currency,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.store.SetPaymentSession(ctx, planID, sess.ID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record payment session: %w", err)
	}

	s.logger.Info("checkout created",
		zap.String("plan_id", planID.String()),
		zap.String("session_id", sess.ID),
	)
	return sess, nil
}

// VerifyPayment confirms the session with the processor and advances the
// plan from draft to paid. A session id that does not equal the recorded
// one is rejected with no side effects. Calling again after the plan is
// already paid (same session) succeeds without re-confirming.
func (s *service) VerifyPayment(ctx context.Context, planID uuid.UUID, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "plan.verify_payment")
	defer span.End()

	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return err
	}

	if p.PaymentSessionID == "" || p.PaymentSessionID != sessionID {
		if s.mismatchCounter != nil {
			s.mismatchCounter.Add(ctx, 1)
		}
		s.logger.Warn("payment session mismatch",
			zap.String("plan_id", planID.String()),
		)
		return ErrSessionMismatch
	}

	if p.State != StateDraft {
		if p.State == StatePaid || p.State == StateGenerating || p.State.HasOutput() {
			return nil // payment already verified
		}
		return fmt.Errorf("plan %s is %s: %w", planID, p.State, ErrInvalidTransition)
	}

	conf, err := s.processor.ConfirmPayment(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("payment confirmation failed: %w", err)
	}
	if !conf.Paid {
		if s.verifyCounter != nil {
			s.verifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "unpaid")))
		}
		return payments.ErrNotPaid
	}

	if err := s.store.Transition(ctx, planID, StateDraft, StatePaid); err != nil {
		// A concurrent verification won the race; payment is confirmed
		// either way.
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		span.RecordError(err)
		return err
	}

	if s.verifyCounter != nil {
		s.verifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "paid")))
	}

	s.logger.Info("payment verified",
		zap.String("plan_id", planID.String()),
		zap.String("session_id", sessionID),
	)
	return nil
}

// Retry resets a failed plan to paid so generation can be started again.
// Payment is not re-verified: it was already confirmed and the session id
// stays on the record.
func (s *service) Retry(ctx context.Context, planID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "plan.retry")
	defer span.End()

	if err := s.store.ResetForRetry(ctx, planID); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("plan reset for retry", zap.String("plan_id", planID.String()))
	return nil
}

func (s *service) Status(ctx context.Context, planID uuid.UUID) (*Status, error) {
	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		PlanID:     p.ID,
		State:      p.State,
		StageLabel: p.StageLabel,
		Progress:   p.Progress,
		Tier:       p.Tier,
	}
	if p.State.HasOutput() {
		st.ArtifactRef = p.ArtifactRef
	}
	return st, nil
}

func (s *service) Document(ctx context.Context, planID uuid.UUID) (string, error) {
	p, err := s.store.Get(ctx, planID)
	if err != nil {
		return "", err
	}
	if !p.State.HasOutput() || p.Document == nil {
		return "", ErrNotReady
	}
	return *p.Document, nil
}

var _ Service = (*service)(nil)
